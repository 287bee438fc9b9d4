package spacesync

// The in-memory content model. A facet is a node in a recursive content tree
// owned by the coordinator ("the space"); agents observe and mutate the tree
// through space events and receive facet deltas in return.
//
// Emptiness is semantically "not set" for the optional aspects below. The
// codec must never reintroduce an absent aspect as an empty default after a
// round trip (collection aspects are allowed to normalize absent to empty).

type Facet struct {
	Id      string
	Type    string
	Content string
	// arbitrary structured data, opaque to the codec. nil means not set.
	State map[string]any
	// unordered set
	Tags       []string
	Attributes map[string]any
	// owning agent aspect
	AgentId   string
	AgentName string
	// owning logical stream aspect
	StreamId   string
	StreamType string
	// visibility tags
	Scopes []string
	// not persisted by the authority
	Ephemeral bool
	// ordered, exclusively owned by this facet. no shared subtrees.
	Children    []*Facet
	Attachments []*Attachment
}

// Attachment carries exactly one of inline Data or a reference Url.
// SizeBytes always reflects the original size even when a reference is used.
// The transfer mode is chosen once at creation time, see transfer.go.
type Attachment struct {
	Id          string
	ContentType string
	Data        []byte
	Url         string
	SizeBytes   ByteCount
	Filename    string
	Metadata    map[string]string
}

func (self *Attachment) IsReference() bool {
	return self.Url != ""
}

type Priority int

// PriorityNormal must stay the wire zero value. An omitted wire priority
// decodes as normal; any other ordinal assignment is a compatibility bug.
const (
	PriorityNormal    Priority = 0
	PriorityLow       Priority = 1
	PriorityHigh      Priority = 2
	PriorityImmediate Priority = 3
)

func (self Priority) String() string {
	switch self {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	default:
		return "normal"
	}
}

type ComponentRef struct {
	ComponentId   string
	ComponentPath []string
	ComponentType string
}

// SpaceEvent is a single causal mutation request or notification.
// Payload is opaque to the codec: shape-preserved, never interpreted.
type SpaceEvent struct {
	Topic           string
	Source          *ComponentRef
	Payload         any
	TimestampMillis int64
	Priority        Priority
	// request the caller block until the resulting frame is committed
	Sync     bool
	Metadata map[string]any
}

type DeltaKind int

const (
	DeltaKindAdded   DeltaKind = 0
	DeltaKindChanged DeltaKind = 1
	DeltaKindRemoved DeltaKind = 2
)

func (self DeltaKind) String() string {
	switch self {
	case DeltaKindChanged:
		return "changed"
	case DeltaKindRemoved:
		return "removed"
	default:
		return "added"
	}
}

// FacetDelta is one added/changed/removed notification for one facet,
// scoped to the frame (atomic delta batch) it was produced with.
type FacetDelta struct {
	Kind  DeltaKind
	Facet *Facet
	// present only for changed, to support before/after diffing
	Previous  *Facet
	Sequence  uint64
	FrameUuid string
}

type EmitResult struct {
	Success   bool
	Sequence  uint64
	FrameUuid string
	Deltas    []*FacetDelta
	// protocol-contract failure, carried alongside the result so partial
	// success information (e.g. an advanced sequence) is preserved
	Error string
}

type SubscribeOptions struct {
	// zero or more filters. a delta passes when it matches all set filters.
	FacetTypes       []string
	AspectFilters    map[string]string
	AttributeFilters map[string]string
	// replay current state before live deltas
	IncludeExisting bool
	// resume point. the mechanism is carried here; whether replay from this
	// point is gap-free is the authority's property, not this layer's.
	FromSequence uint64
	StreamIds    []string
}

type RegisterAgentArgs struct {
	AgentId      string
	AgentName    string
	AgentType    string
	Capabilities []string
	Metadata     map[string]any
}

type RegisterAgentResult struct {
	AgentId      string
	SessionToken string
	Success      bool
	Error        string
}

type GetContextArgs struct {
	AgentId    string
	StreamId   string
	MaxFrames  int32
	MaxTokens  int32
	FacetTypes []string
}

type GetContextResult struct {
	// JSON text, decoded by the caller
	ContextBytes []byte
	TokenCount   int32
	FrameCount   int32
	Error        string
}

type CreateStreamArgs struct {
	StreamId   string
	StreamType string
	Metadata   map[string]any
}

type CreateStreamResult struct {
	Success bool
	Error   string
}

type GetStateSnapshotArgs struct {
	Sequence   uint64
	FacetTypes []string
	StreamIds  []string
}

type StreamInfo struct {
	StreamId   string
	StreamType string
	Metadata   map[string]any
}

type AgentInfo struct {
	AgentId      string
	AgentName    string
	AgentType    string
	Capabilities []string
}

type GetStateSnapshotResult struct {
	Sequence uint64
	Facets   []*Facet
	Streams  []*StreamInfo
	Agents   []*AgentInfo
	Error    string
}

type GetFramesArgs struct {
	StreamId     string
	FromSequence uint64
	MaxFrames    int32
}

type FrameRecord struct {
	FrameUuid       string
	Sequence        uint64
	Topic           string
	TimestampMillis int64
	Deltas          []*FacetDelta
}

type GetFramesResult struct {
	Frames          []*FrameRecord
	CurrentSequence uint64
	Error           string
}

type ActivateAgentArgs struct {
	AgentId  string
	StreamId string
	Reason   string
	Priority Priority
	Metadata map[string]any
}

type ActivateAgentResult struct {
	Success      bool
	ActivationId string
	Error        string
}
