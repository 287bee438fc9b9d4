package spacesync

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/facetspace/spacesync/protocol"
)

func TestFacetCodecRoundTrip(t *testing.T) {
	facet := &Facet{
		Id:      "n1",
		Type:    "note",
		Content: "hello",
		State: map[string]any{
			"cursor": float64(12),
			"open":   true,
			"labels": []any{"a", "b"},
		},
		Tags: []string{"pinned", "draft"},
		Attributes: map[string]any{
			"color":  "blue",
			"weight": float64(3),
		},
		AgentId:    "agent-1",
		AgentName:  "scribe",
		StreamId:   "s1",
		StreamType: "conversation",
		Scopes:     []string{"team"},
		Ephemeral:  true,
		Children: []*Facet{
			{
				Id:   "n1.1",
				Type: "note",
			},
		},
		Attachments: []*Attachment{
			{
				Id:          "a1",
				ContentType: "text/plain",
				Data:        []byte("payload"),
				SizeBytes:   7,
				Filename:    "payload.txt",
			},
		},
	}

	decoded := DecodeFacet(EncodeFacet(facet))
	assert.Equal(t, facet, decoded)
}

func TestFacetCodecAbsentAspects(t *testing.T) {
	// absent aspects must not come back as empty defaults
	facet := &Facet{
		Id:   "n1",
		Type: "note",
	}

	wire := EncodeFacet(facet)
	assert.Equal(t, len(wire.StateJson), 0)
	assert.Equal(t, len(wire.Attributes), 0)

	decoded := DecodeFacet(wire)
	assert.Equal(t, decoded.State, nil)
	assert.Equal(t, decoded.Attributes, nil)
	assert.Equal(t, decoded.Tags, nil)
	assert.Equal(t, decoded.Children, nil)
	assert.Equal(t, decoded.Attachments, nil)
}

func TestFacetCodecMalformedState(t *testing.T) {
	// a malformed embedded document degrades to an empty value, never an error
	wire := &protocol.Facet{
		Id:        "n1",
		StateJson: []byte("{not json"),
	}
	decoded := DecodeFacet(wire)
	assert.Equal(t, decoded.State, map[string]any{})
}

func TestAttributeValueCodec(t *testing.T) {
	// a plain string is stored raw and survives the round trip
	assert.Equal(t, decodeAttributeValue(encodeAttributeValue("k", "plain")), "plain")

	// structured values cross as JSON text
	assert.Equal(t, decodeAttributeValue(encodeAttributeValue("k", float64(42))), float64(42))
	assert.Equal(t, decodeAttributeValue(encodeAttributeValue("k", true)), true)
	assert.Equal(
		t,
		decodeAttributeValue(encodeAttributeValue("k", map[string]any{"x": float64(1)})),
		map[string]any{"x": float64(1)},
	)

	// a raw string that happens not to be JSON stays a string
	assert.Equal(t, decodeAttributeValue("not json"), "not json")
}

func TestEventCodecRoundTrip(t *testing.T) {
	event := &SpaceEvent{
		Topic: "note.create",
		Source: &ComponentRef{
			ComponentId:   "c1",
			ComponentPath: []string{"root", "panel"},
			ComponentType: "editor",
		},
		Payload: map[string]any{
			"text":  "hi",
			"count": float64(2),
		},
		TimestampMillis: 1700000000000,
		Priority:        PriorityHigh,
		Sync:            true,
		Metadata: map[string]any{
			"trace": "t-1",
		},
	}

	decoded := DecodeEvent(EncodeEvent(event))
	assert.Equal(t, event, decoded)
}

func TestEventCodecNilPayload(t *testing.T) {
	// nil payload must stay nil, never become "{}" or "null" on the wire
	event := &SpaceEvent{
		Topic: "ping",
	}

	wire := EncodeEvent(event)
	assert.Equal(t, len(wire.PayloadJson), 0)
	assert.Equal(t, len(wire.MetadataJson), 0)

	decoded := DecodeEvent(wire)
	assert.Equal(t, decoded.Payload, nil)
	assert.Equal(t, decoded.Metadata, nil)
}

func TestEventCodecPriorityDefault(t *testing.T) {
	// an omitted wire priority decodes as normal
	decoded := DecodeEvent(&protocol.SpaceEvent{
		Topic: "ping",
	})
	assert.Equal(t, decoded.Priority, PriorityNormal)

	// and normal encodes as the wire zero value
	wire := EncodeEvent(&SpaceEvent{
		Topic:    "ping",
		Priority: PriorityNormal,
	})
	assert.Equal(t, wire.Priority, protocol.Priority(0))
}

func TestDeltaCodecRoundTrip(t *testing.T) {
	delta := &FacetDelta{
		Kind: DeltaKindChanged,
		Facet: &Facet{
			Id:      "n1",
			Type:    "note",
			Content: "after",
		},
		Previous: &Facet{
			Id:      "n1",
			Type:    "note",
			Content: "before",
		},
		Sequence:  42,
		FrameUuid: "f-1",
	}

	decoded := DecodeDelta(EncodeDelta(delta))
	assert.Equal(t, delta, decoded)
}

func TestDeltaCodecAddedHasNoPrevious(t *testing.T) {
	delta := &FacetDelta{
		Kind: DeltaKindAdded,
		Facet: &Facet{
			Id: "n1",
		},
		Sequence: 1,
	}

	decoded := DecodeDelta(EncodeDelta(delta))
	assert.Equal(t, decoded.Previous, nil)
	assert.Equal(t, decoded.Kind, DeltaKindAdded)
}

func TestSubscribeOptionsCodec(t *testing.T) {
	options := &SubscribeOptions{
		FacetTypes: []string{"note"},
		AspectFilters: map[string]string{
			"streamId": "s1",
		},
		AttributeFilters: map[string]string{
			"color": "blue",
		},
		IncludeExisting: true,
		FromSequence:    7,
		StreamIds:       []string{"s1", "s2"},
	}

	decoded := DecodeSubscribeOptions(EncodeSubscribeOptions(options))
	assert.Equal(t, options, decoded)

	// nil options normalize to an unfiltered subscription
	assert.Equal(t, DecodeSubscribeOptions(EncodeSubscribeOptions(nil)), &SubscribeOptions{})
}

func TestMetadataCodec(t *testing.T) {
	metadata := map[string]any{
		"trace":   "t-1",
		"retries": float64(3),
		"nested": map[string]any{
			"ok": true,
		},
	}

	decoded := decodeMetadata("test", encodeMetadata("test", metadata))
	assert.Equal(t, metadata, decoded)

	assert.Equal(t, encodeMetadata("test", nil), nil)
	assert.Equal(t, decodeMetadata("test", nil), nil)
}
