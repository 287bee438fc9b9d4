package protocol

import (
	"fmt"
)

type MessageType int32

const (
	MessageTypeHealth                 MessageType = 1
	MessageTypeHealthResult           MessageType = 2
	MessageTypeEmitEvent              MessageType = 3
	MessageTypeEmitEventResult        MessageType = 4
	MessageTypeSubscribeToFacets      MessageType = 5
	MessageTypeFacetDelta             MessageType = 6
	MessageTypeRegisterAgent          MessageType = 7
	MessageTypeRegisterAgentResult    MessageType = 8
	MessageTypeGetContext             MessageType = 9
	MessageTypeGetContextResult       MessageType = 10
	MessageTypeCreateStream           MessageType = 11
	MessageTypeCreateStreamResult     MessageType = 12
	MessageTypeGetStateSnapshot       MessageType = 13
	MessageTypeGetStateSnapshotResult MessageType = 14
	MessageTypeGetFrames              MessageType = 15
	MessageTypeGetFramesResult        MessageType = 16
	MessageTypeActivateAgent          MessageType = 17
	MessageTypeActivateAgentResult    MessageType = 18
)

// Frame is the single envelope that crosses the transport. The message type
// tag selects which wire struct the message bytes decode into.
type Frame struct {
	MessageType  MessageType `cbor:"1,keyasint,omitempty"`
	MessageBytes []byte      `cbor:"2,keyasint,omitempty"`
}

func ToFrame(message any) (*Frame, error) {
	var messageType MessageType
	switch v := message.(type) {
	case *Health:
		messageType = MessageTypeHealth
	case *HealthResult:
		messageType = MessageTypeHealthResult
	case *EmitEvent:
		messageType = MessageTypeEmitEvent
	case *EmitEventResult:
		messageType = MessageTypeEmitEventResult
	case *SubscribeToFacets:
		messageType = MessageTypeSubscribeToFacets
	case *FacetDelta:
		messageType = MessageTypeFacetDelta
	case *RegisterAgent:
		messageType = MessageTypeRegisterAgent
	case *RegisterAgentResult:
		messageType = MessageTypeRegisterAgentResult
	case *GetContext:
		messageType = MessageTypeGetContext
	case *GetContextResult:
		messageType = MessageTypeGetContextResult
	case *CreateStream:
		messageType = MessageTypeCreateStream
	case *CreateStreamResult:
		messageType = MessageTypeCreateStreamResult
	case *GetStateSnapshot:
		messageType = MessageTypeGetStateSnapshot
	case *GetStateSnapshotResult:
		messageType = MessageTypeGetStateSnapshotResult
	case *GetFrames:
		messageType = MessageTypeGetFrames
	case *GetFramesResult:
		messageType = MessageTypeGetFramesResult
	case *ActivateAgent:
		messageType = MessageTypeActivateAgent
	case *ActivateAgentResult:
		messageType = MessageTypeActivateAgentResult
	default:
		return nil, fmt.Errorf("Unknown message type: %T", v)
	}
	b, err := Marshal(message)
	if err != nil {
		return nil, err
	}
	return &Frame{
		MessageType:  messageType,
		MessageBytes: b,
	}, nil
}

func RequireToFrame(message any) *Frame {
	frame, err := ToFrame(message)
	if err != nil {
		panic(err)
	}
	return frame
}

func FromFrame(frame *Frame) (any, error) {
	var message any
	switch frame.MessageType {
	case MessageTypeHealth:
		message = &Health{}
	case MessageTypeHealthResult:
		message = &HealthResult{}
	case MessageTypeEmitEvent:
		message = &EmitEvent{}
	case MessageTypeEmitEventResult:
		message = &EmitEventResult{}
	case MessageTypeSubscribeToFacets:
		message = &SubscribeToFacets{}
	case MessageTypeFacetDelta:
		message = &FacetDelta{}
	case MessageTypeRegisterAgent:
		message = &RegisterAgent{}
	case MessageTypeRegisterAgentResult:
		message = &RegisterAgentResult{}
	case MessageTypeGetContext:
		message = &GetContext{}
	case MessageTypeGetContextResult:
		message = &GetContextResult{}
	case MessageTypeCreateStream:
		message = &CreateStream{}
	case MessageTypeCreateStreamResult:
		message = &CreateStreamResult{}
	case MessageTypeGetStateSnapshot:
		message = &GetStateSnapshot{}
	case MessageTypeGetStateSnapshotResult:
		message = &GetStateSnapshotResult{}
	case MessageTypeGetFrames:
		message = &GetFrames{}
	case MessageTypeGetFramesResult:
		message = &GetFramesResult{}
	case MessageTypeActivateAgent:
		message = &ActivateAgent{}
	case MessageTypeActivateAgentResult:
		message = &ActivateAgentResult{}
	default:
		return nil, fmt.Errorf("Unknown message type: %d", frame.MessageType)
	}
	err := Unmarshal(frame.MessageBytes, message)
	if err != nil {
		return nil, err
	}
	return message, nil
}

func RequireFromFrame(frame *Frame) any {
	message, err := FromFrame(frame)
	if err != nil {
		panic(err)
	}
	return message
}

func EncodeFrame(message any) ([]byte, error) {
	frame, err := ToFrame(message)
	if err != nil {
		return nil, err
	}
	return Marshal(frame)
}

func DecodeFrame(b []byte) (any, error) {
	frame := &Frame{}
	err := Unmarshal(b, frame)
	if err != nil {
		return nil, err
	}
	return FromFrame(frame)
}

type EnvelopeKind int32

const (
	EnvelopeKindRequest       EnvelopeKind = 1
	EnvelopeKindResponse      EnvelopeKind = 2
	EnvelopeKindStreamOpen    EnvelopeKind = 3
	EnvelopeKindStreamMessage EnvelopeKind = 4
	EnvelopeKindStreamEnd     EnvelopeKind = 5
	EnvelopeKindStreamCancel  EnvelopeKind = 6
)

// Envelope multiplexes concurrent calls and streams over one connection.
// Request ids are assigned by the caller and echoed on every message that
// belongs to the same call or stream.
type Envelope struct {
	Kind      EnvelopeKind `cbor:"1,keyasint,omitempty"`
	RequestId uint64       `cbor:"2,keyasint,omitempty"`
	Frame     *Frame       `cbor:"3,keyasint,omitempty"`
	Error     string       `cbor:"4,keyasint,omitempty"`
}

func EncodeEnvelope(envelope *Envelope) ([]byte, error) {
	return Marshal(envelope)
}

func DecodeEnvelope(b []byte) (*Envelope, error) {
	envelope := &Envelope{}
	err := Unmarshal(b, envelope)
	if err != nil {
		return nil, err
	}
	return envelope, nil
}
