package spacesync

import (
	"encoding/json"

	"github.com/golang/glog"

	"github.com/facetspace/spacesync/protocol"
)

// Codec between the in-memory content model and the flat wire schema.
//
// The wire schema cannot express open-ended structured types, so facet state,
// event payloads, metadata values, and non-string attribute values cross the
// boundary as byte fields carrying JSON text. A zero-length byte field means
// "not set", never "empty object".
//
// Decode failures of embedded structured data are non-fatal. A malformed
// payload degrades to an empty value with a diagnostic, so one bad field can
// never block delivery of an otherwise valid delta stream.

func EncodeFacet(facet *Facet) *protocol.Facet {
	if facet == nil {
		return nil
	}
	wire := &protocol.Facet{
		Id:         facet.Id,
		Type:       facet.Type,
		Content:    facet.Content,
		StateJson:  encodeOpaque("facet.state", facet.State),
		Tags:       facet.Tags,
		AgentId:    facet.AgentId,
		AgentName:  facet.AgentName,
		StreamId:   facet.StreamId,
		StreamType: facet.StreamType,
		Scopes:     facet.Scopes,
		Ephemeral:  facet.Ephemeral,
	}
	if 0 < len(facet.Attributes) {
		wire.Attributes = map[string]string{}
		for key, value := range facet.Attributes {
			wire.Attributes[key] = encodeAttributeValue(key, value)
		}
	}
	for _, child := range facet.Children {
		wire.Children = append(wire.Children, EncodeFacet(child))
	}
	for _, attachment := range facet.Attachments {
		wire.Attachments = append(wire.Attachments, EncodeAttachment(attachment))
	}
	return wire
}

func DecodeFacet(wire *protocol.Facet) *Facet {
	if wire == nil {
		return nil
	}
	facet := &Facet{
		Id:         wire.Id,
		Type:       wire.Type,
		Content:    wire.Content,
		Tags:       wire.Tags,
		AgentId:    wire.AgentId,
		AgentName:  wire.AgentName,
		StreamId:   wire.StreamId,
		StreamType: wire.StreamType,
		Scopes:     wire.Scopes,
		Ephemeral:  wire.Ephemeral,
	}
	// an aspect is set on the model only when its wire value differs from
	// the wire default. absent must not come back as an empty default.
	if 0 < len(wire.StateJson) {
		facet.State = decodeOpaqueMap("facet.state", wire.StateJson)
	}
	if 0 < len(wire.Attributes) {
		facet.Attributes = map[string]any{}
		for key, value := range wire.Attributes {
			facet.Attributes[key] = decodeAttributeValue(value)
		}
	}
	for _, child := range wire.Children {
		facet.Children = append(facet.Children, DecodeFacet(child))
	}
	for _, attachment := range wire.Attachments {
		facet.Attachments = append(facet.Attachments, DecodeAttachment(attachment))
	}
	return facet
}

func EncodeAttachment(attachment *Attachment) *protocol.Attachment {
	if attachment == nil {
		return nil
	}
	// the inline-versus-reference decision was made at creation time
	// (see transfer.go). the codec maps whichever side is populated.
	return &protocol.Attachment{
		Id:          attachment.Id,
		ContentType: attachment.ContentType,
		Data:        attachment.Data,
		Url:         attachment.Url,
		SizeBytes:   attachment.SizeBytes,
		Filename:    attachment.Filename,
		Metadata:    attachment.Metadata,
	}
}

func DecodeAttachment(wire *protocol.Attachment) *Attachment {
	if wire == nil {
		return nil
	}
	return &Attachment{
		Id:          wire.Id,
		ContentType: wire.ContentType,
		Data:        wire.Data,
		Url:         wire.Url,
		SizeBytes:   wire.SizeBytes,
		Filename:    wire.Filename,
		Metadata:    wire.Metadata,
	}
}

func EncodeEvent(event *SpaceEvent) *protocol.SpaceEvent {
	if event == nil {
		return nil
	}
	return &protocol.SpaceEvent{
		Topic:           event.Topic,
		Source:          encodeComponentRef(event.Source),
		PayloadJson:     encodeOpaque("event.payload", event.Payload),
		TimestampMillis: event.TimestampMillis,
		Priority:        protocol.Priority(event.Priority),
		Sync:            event.Sync,
		MetadataJson:    encodeMetadata("event.metadata", event.Metadata),
	}
}

func DecodeEvent(wire *protocol.SpaceEvent) *SpaceEvent {
	if wire == nil {
		return nil
	}
	event := &SpaceEvent{
		Topic:           wire.Topic,
		Source:          decodeComponentRef(wire.Source),
		TimestampMillis: wire.TimestampMillis,
		Priority:        Priority(wire.Priority),
		Sync:            wire.Sync,
		Metadata:        decodeMetadata("event.metadata", wire.MetadataJson),
	}
	if 0 < len(wire.PayloadJson) {
		event.Payload = decodeOpaqueAny("event.payload", wire.PayloadJson)
	}
	return event
}

func encodeComponentRef(source *ComponentRef) *protocol.ComponentRef {
	if source == nil {
		return nil
	}
	return &protocol.ComponentRef{
		ComponentId:   source.ComponentId,
		ComponentPath: source.ComponentPath,
		ComponentType: source.ComponentType,
	}
}

func decodeComponentRef(wire *protocol.ComponentRef) *ComponentRef {
	if wire == nil {
		return nil
	}
	return &ComponentRef{
		ComponentId:   wire.ComponentId,
		ComponentPath: wire.ComponentPath,
		ComponentType: wire.ComponentType,
	}
}

func EncodeDelta(delta *FacetDelta) *protocol.FacetDelta {
	if delta == nil {
		return nil
	}
	return &protocol.FacetDelta{
		Kind:      protocol.DeltaKind(delta.Kind),
		Facet:     EncodeFacet(delta.Facet),
		Previous:  EncodeFacet(delta.Previous),
		Sequence:  delta.Sequence,
		FrameUuid: delta.FrameUuid,
	}
}

func DecodeDelta(wire *protocol.FacetDelta) *FacetDelta {
	if wire == nil {
		return nil
	}
	return &FacetDelta{
		Kind:      DeltaKind(wire.Kind),
		Facet:     DecodeFacet(wire.Facet),
		Previous:  DecodeFacet(wire.Previous),
		Sequence:  wire.Sequence,
		FrameUuid: wire.FrameUuid,
	}
}

func encodeDeltas(deltas []*FacetDelta) []*protocol.FacetDelta {
	var wire []*protocol.FacetDelta
	for _, delta := range deltas {
		wire = append(wire, EncodeDelta(delta))
	}
	return wire
}

func decodeDeltas(wire []*protocol.FacetDelta) []*FacetDelta {
	var deltas []*FacetDelta
	for _, delta := range wire {
		deltas = append(deltas, DecodeDelta(delta))
	}
	return deltas
}

// a value that is already a plain string is stored raw to avoid needless
// quoting overhead. decode attempts a JSON parse first and falls back to the
// raw string, so the two representations converge.
func encodeAttributeValue(key string, value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		glog.Infof("[codec]attribute %s encode error = %s\n", key, err)
		return ""
	}
	return string(b)
}

func decodeAttributeValue(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return value
	}
	return decoded
}

func encodeMetadata(tag string, metadata map[string]any) map[string][]byte {
	if len(metadata) == 0 {
		return nil
	}
	wire := map[string][]byte{}
	for key, value := range metadata {
		b, err := json.Marshal(value)
		if err != nil {
			glog.Infof("[codec]%s %s encode error = %s\n", tag, key, err)
			continue
		}
		wire[key] = b
	}
	return wire
}

func decodeMetadata(tag string, wire map[string][]byte) map[string]any {
	if len(wire) == 0 {
		return nil
	}
	metadata := map[string]any{}
	for key, b := range wire {
		var value any
		if err := json.Unmarshal(b, &value); err != nil {
			glog.Infof("[codec]%s %s decode error = %s\n", tag, key, err)
			metadata[key] = nil
			continue
		}
		metadata[key] = value
	}
	return metadata
}

func encodeOpaque(tag string, value any) []byte {
	if value == nil {
		return nil
	}
	if m, ok := value.(map[string]any); ok && m == nil {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		glog.Infof("[codec]%s encode error = %s\n", tag, err)
		return nil
	}
	return b
}

func decodeOpaqueMap(tag string, b []byte) map[string]any {
	decoded := map[string]any{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		glog.Infof("[codec]%s decode error = %s\n", tag, err)
		// substitute an empty object, never abort the enclosing decode
		return map[string]any{}
	}
	return decoded
}

func decodeOpaqueAny(tag string, b []byte) any {
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		glog.Infof("[codec]%s decode error = %s\n", tag, err)
		return nil
	}
	return decoded
}

func EncodeSubscribeOptions(options *SubscribeOptions) *protocol.SubscribeToFacets {
	if options == nil {
		options = &SubscribeOptions{}
	}
	return &protocol.SubscribeToFacets{
		FacetTypes:       options.FacetTypes,
		AspectFilters:    options.AspectFilters,
		AttributeFilters: options.AttributeFilters,
		IncludeExisting:  options.IncludeExisting,
		FromSequence:     options.FromSequence,
		StreamIds:        options.StreamIds,
	}
}

func DecodeSubscribeOptions(wire *protocol.SubscribeToFacets) *SubscribeOptions {
	if wire == nil {
		return &SubscribeOptions{}
	}
	return &SubscribeOptions{
		FacetTypes:       wire.FacetTypes,
		AspectFilters:    wire.AspectFilters,
		AttributeFilters: wire.AttributeFilters,
		IncludeExisting:  wire.IncludeExisting,
		FromSequence:     wire.FromSequence,
		StreamIds:        wire.StreamIds,
	}
}
