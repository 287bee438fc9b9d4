package protocol

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFrameRoundTrip(t *testing.T) {
	messages := []any{
		&Health{},
		&HealthResult{Success: true},
		&EmitEvent{
			Event: &SpaceEvent{
				Topic:           "note.create",
				PayloadJson:     []byte(`{"text":"hi"}`),
				TimestampMillis: 1700000000000,
				Priority:        PriorityImmediate,
			},
			WaitForFrame: true,
		},
		&EmitEventResult{
			Success:   true,
			Sequence:  42,
			FrameUuid: "f-1",
			Deltas: []*FacetDelta{
				{
					Kind: DeltaKindAdded,
					Facet: &Facet{
						Id:   "n1",
						Type: "note",
					},
					Sequence:  42,
					FrameUuid: "f-1",
				},
			},
		},
		&SubscribeToFacets{
			FacetTypes:      []string{"note"},
			IncludeExisting: true,
			FromSequence:    7,
		},
		&FacetDelta{
			Kind: DeltaKindChanged,
			Facet: &Facet{
				Id: "n1",
			},
			Previous: &Facet{
				Id: "n1",
			},
			Sequence: 43,
		},
		&RegisterAgent{
			AgentId:      "agent-1",
			AgentName:    "scribe",
			Capabilities: []string{"summarize"},
		},
		&RegisterAgentResult{
			AgentId:      "agent-1",
			SessionToken: "jwt",
			Success:      true,
		},
		&GetContext{
			AgentId:   "agent-1",
			StreamId:  "s1",
			MaxFrames: 10,
		},
		&GetContextResult{
			ContextBytes: []byte(`{"frames":[]}`),
			TokenCount:   128,
			FrameCount:   3,
		},
		&CreateStream{
			StreamId:   "s1",
			StreamType: "conversation",
		},
		&CreateStreamResult{Success: true},
		&GetStateSnapshot{
			Sequence:  7,
			StreamIds: []string{"s1"},
		},
		&GetStateSnapshotResult{
			Sequence: 7,
			Facets: []*Facet{
				{Id: "n1"},
			},
			Streams: []*StreamInfo{
				{StreamId: "s1", StreamType: "conversation"},
			},
			Agents: []*AgentInfo{
				{AgentId: "agent-1", AgentType: "assistant"},
			},
		},
		&GetFrames{
			StreamId:     "s1",
			FromSequence: 40,
			MaxFrames:    5,
		},
		&GetFramesResult{
			Frames: []*FrameRecord{
				{
					FrameUuid: "f-1",
					Sequence:  42,
					Topic:     "note.create",
				},
			},
			CurrentSequence: 42,
		},
		&ActivateAgent{
			AgentId:  "agent-1",
			StreamId: "s1",
			Reason:   "mention",
			Priority: PriorityHigh,
		},
		&ActivateAgentResult{
			Success:      true,
			ActivationId: "act-1",
		},
	}

	for _, message := range messages {
		frame, err := ToFrame(message)
		assert.Equal(t, err, nil)

		decoded, err := FromFrame(frame)
		assert.Equal(t, err, nil)
		assert.Equal(t, message, decoded)
	}
}

func TestFrameUnknownType(t *testing.T) {
	type notWire struct{}

	_, err := ToFrame(&notWire{})
	assert.NotEqual(t, err, nil)

	_, err = FromFrame(&Frame{MessageType: MessageType(9999)})
	assert.NotEqual(t, err, nil)
}

func TestEncodeDecodeFrame(t *testing.T) {
	b, err := EncodeFrame(&HealthResult{Success: true})
	assert.Equal(t, err, nil)

	message, err := DecodeFrame(b)
	assert.Equal(t, err, nil)
	result, ok := message.(*HealthResult)
	assert.Equal(t, ok, true)
	assert.Equal(t, result.Success, true)
}

func TestEnvelopeCodec(t *testing.T) {
	envelope := &Envelope{
		Kind:      EnvelopeKindStreamMessage,
		RequestId: 9,
		Frame:     RequireToFrame(&FacetDelta{Sequence: 1}),
	}

	b, err := EncodeEnvelope(envelope)
	assert.Equal(t, err, nil)

	decoded, err := DecodeEnvelope(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, envelope, decoded)

	// error envelopes carry no frame
	b, err = EncodeEnvelope(&Envelope{
		Kind:      EnvelopeKindResponse,
		RequestId: 9,
		Error:     "no such stream",
	})
	assert.Equal(t, err, nil)
	decoded, err = DecodeEnvelope(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.Error, "no such stream")
	assert.Equal(t, decoded.Frame, nil)
}
