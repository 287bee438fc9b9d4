package spacesync

import (
	"github.com/facetspace/spacesync/protocol"
)

// Wire mapping for the unary RPC argument and result shapes. Structurally
// fixed fields (ids, counts, flags) map to typed wire fields; only genuinely
// unconstrained data (metadata, context) rides the opaque-bytes escape hatch.

func EncodeRegisterAgentArgs(args *RegisterAgentArgs) *protocol.RegisterAgent {
	return &protocol.RegisterAgent{
		AgentId:      args.AgentId,
		AgentName:    args.AgentName,
		AgentType:    args.AgentType,
		Capabilities: args.Capabilities,
		MetadataJson: encodeMetadata("registerAgent.metadata", args.Metadata),
	}
}

func DecodeRegisterAgentArgs(wire *protocol.RegisterAgent) *RegisterAgentArgs {
	return &RegisterAgentArgs{
		AgentId:      wire.AgentId,
		AgentName:    wire.AgentName,
		AgentType:    wire.AgentType,
		Capabilities: wire.Capabilities,
		Metadata:     decodeMetadata("registerAgent.metadata", wire.MetadataJson),
	}
}

func EncodeRegisterAgentResult(result *RegisterAgentResult) *protocol.RegisterAgentResult {
	return &protocol.RegisterAgentResult{
		AgentId:      result.AgentId,
		SessionToken: result.SessionToken,
		Success:      result.Success,
		Error:        result.Error,
	}
}

func DecodeRegisterAgentResult(wire *protocol.RegisterAgentResult) *RegisterAgentResult {
	return &RegisterAgentResult{
		AgentId:      wire.AgentId,
		SessionToken: wire.SessionToken,
		Success:      wire.Success,
		Error:        wire.Error,
	}
}

func EncodeGetContextArgs(args *GetContextArgs) *protocol.GetContext {
	return &protocol.GetContext{
		AgentId:    args.AgentId,
		StreamId:   args.StreamId,
		MaxFrames:  args.MaxFrames,
		MaxTokens:  args.MaxTokens,
		FacetTypes: args.FacetTypes,
	}
}

func DecodeGetContextArgs(wire *protocol.GetContext) *GetContextArgs {
	return &GetContextArgs{
		AgentId:    wire.AgentId,
		StreamId:   wire.StreamId,
		MaxFrames:  wire.MaxFrames,
		MaxTokens:  wire.MaxTokens,
		FacetTypes: wire.FacetTypes,
	}
}

func EncodeGetContextResult(result *GetContextResult) *protocol.GetContextResult {
	return &protocol.GetContextResult{
		ContextBytes: result.ContextBytes,
		TokenCount:   result.TokenCount,
		FrameCount:   result.FrameCount,
		Error:        result.Error,
	}
}

func DecodeGetContextResult(wire *protocol.GetContextResult) *GetContextResult {
	return &GetContextResult{
		ContextBytes: wire.ContextBytes,
		TokenCount:   wire.TokenCount,
		FrameCount:   wire.FrameCount,
		Error:        wire.Error,
	}
}

func EncodeCreateStreamArgs(args *CreateStreamArgs) *protocol.CreateStream {
	return &protocol.CreateStream{
		StreamId:     args.StreamId,
		StreamType:   args.StreamType,
		MetadataJson: encodeMetadata("createStream.metadata", args.Metadata),
	}
}

func DecodeCreateStreamArgs(wire *protocol.CreateStream) *CreateStreamArgs {
	return &CreateStreamArgs{
		StreamId:   wire.StreamId,
		StreamType: wire.StreamType,
		Metadata:   decodeMetadata("createStream.metadata", wire.MetadataJson),
	}
}

func EncodeGetStateSnapshotArgs(args *GetStateSnapshotArgs) *protocol.GetStateSnapshot {
	return &protocol.GetStateSnapshot{
		Sequence:   args.Sequence,
		FacetTypes: args.FacetTypes,
		StreamIds:  args.StreamIds,
	}
}

func DecodeGetStateSnapshotArgs(wire *protocol.GetStateSnapshot) *GetStateSnapshotArgs {
	return &GetStateSnapshotArgs{
		Sequence:   wire.Sequence,
		FacetTypes: wire.FacetTypes,
		StreamIds:  wire.StreamIds,
	}
}

func EncodeGetStateSnapshotResult(result *GetStateSnapshotResult) *protocol.GetStateSnapshotResult {
	wire := &protocol.GetStateSnapshotResult{
		Sequence: result.Sequence,
		Error:    result.Error,
	}
	for _, facet := range result.Facets {
		wire.Facets = append(wire.Facets, EncodeFacet(facet))
	}
	for _, stream := range result.Streams {
		wire.Streams = append(wire.Streams, &protocol.StreamInfo{
			StreamId:     stream.StreamId,
			StreamType:   stream.StreamType,
			MetadataJson: encodeMetadata("stream.metadata", stream.Metadata),
		})
	}
	for _, agent := range result.Agents {
		wire.Agents = append(wire.Agents, &protocol.AgentInfo{
			AgentId:      agent.AgentId,
			AgentName:    agent.AgentName,
			AgentType:    agent.AgentType,
			Capabilities: agent.Capabilities,
		})
	}
	return wire
}

func DecodeGetStateSnapshotResult(wire *protocol.GetStateSnapshotResult) *GetStateSnapshotResult {
	result := &GetStateSnapshotResult{
		Sequence: wire.Sequence,
		Error:    wire.Error,
	}
	for _, facet := range wire.Facets {
		result.Facets = append(result.Facets, DecodeFacet(facet))
	}
	for _, stream := range wire.Streams {
		result.Streams = append(result.Streams, &StreamInfo{
			StreamId:   stream.StreamId,
			StreamType: stream.StreamType,
			Metadata:   decodeMetadata("stream.metadata", stream.MetadataJson),
		})
	}
	for _, agent := range wire.Agents {
		result.Agents = append(result.Agents, &AgentInfo{
			AgentId:      agent.AgentId,
			AgentName:    agent.AgentName,
			AgentType:    agent.AgentType,
			Capabilities: agent.Capabilities,
		})
	}
	return result
}

func EncodeGetFramesArgs(args *GetFramesArgs) *protocol.GetFrames {
	return &protocol.GetFrames{
		StreamId:     args.StreamId,
		FromSequence: args.FromSequence,
		MaxFrames:    args.MaxFrames,
	}
}

func DecodeGetFramesArgs(wire *protocol.GetFrames) *GetFramesArgs {
	return &GetFramesArgs{
		StreamId:     wire.StreamId,
		FromSequence: wire.FromSequence,
		MaxFrames:    wire.MaxFrames,
	}
}

func EncodeGetFramesResult(result *GetFramesResult) *protocol.GetFramesResult {
	wire := &protocol.GetFramesResult{
		CurrentSequence: result.CurrentSequence,
		Error:           result.Error,
	}
	for _, record := range result.Frames {
		wire.Frames = append(wire.Frames, &protocol.FrameRecord{
			FrameUuid:       record.FrameUuid,
			Sequence:        record.Sequence,
			Topic:           record.Topic,
			TimestampMillis: record.TimestampMillis,
			Deltas:          encodeDeltas(record.Deltas),
		})
	}
	return wire
}

func DecodeGetFramesResult(wire *protocol.GetFramesResult) *GetFramesResult {
	result := &GetFramesResult{
		CurrentSequence: wire.CurrentSequence,
		Error:           wire.Error,
	}
	for _, record := range wire.Frames {
		result.Frames = append(result.Frames, &FrameRecord{
			FrameUuid:       record.FrameUuid,
			Sequence:        record.Sequence,
			Topic:           record.Topic,
			TimestampMillis: record.TimestampMillis,
			Deltas:          decodeDeltas(record.Deltas),
		})
	}
	return result
}

func EncodeActivateAgentArgs(args *ActivateAgentArgs) *protocol.ActivateAgent {
	return &protocol.ActivateAgent{
		AgentId:      args.AgentId,
		StreamId:     args.StreamId,
		Reason:       args.Reason,
		Priority:     protocol.Priority(args.Priority),
		MetadataJson: encodeMetadata("activateAgent.metadata", args.Metadata),
	}
}

func DecodeActivateAgentArgs(wire *protocol.ActivateAgent) *ActivateAgentArgs {
	return &ActivateAgentArgs{
		AgentId:  wire.AgentId,
		StreamId: wire.StreamId,
		Reason:   wire.Reason,
		Priority: Priority(wire.Priority),
		Metadata: decodeMetadata("activateAgent.metadata", wire.MetadataJson),
	}
}

func EncodeEmitResult(result *EmitResult) *protocol.EmitEventResult {
	return &protocol.EmitEventResult{
		Success:   result.Success,
		Sequence:  result.Sequence,
		FrameUuid: result.FrameUuid,
		Deltas:    encodeDeltas(result.Deltas),
		Error:     result.Error,
	}
}

func DecodeEmitResult(wire *protocol.EmitEventResult) *EmitResult {
	return &EmitResult{
		Success:   wire.Success,
		Sequence:  wire.Sequence,
		FrameUuid: wire.FrameUuid,
		Deltas:    decodeDeltas(wire.Deltas),
		Error:     wire.Error,
	}
}
