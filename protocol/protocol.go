package protocol

// Wire message shapes for the facet synchronization protocol.
// Field keys are stable small integers. Removing or renumbering a field is a
// wire compatibility break; add new fields with new keys only.
//
// Open-ended structured data (facet state, event payload, metadata values,
// attribute values) crosses the boundary as byte fields carrying JSON text.
// The codec layer owns that mapping; this package only moves bytes.

type Priority int32

// Normal must stay the zero value so an omitted priority decodes as normal.
const (
	PriorityNormal    Priority = 0
	PriorityLow       Priority = 1
	PriorityHigh      Priority = 2
	PriorityImmediate Priority = 3
)

type DeltaKind int32

const (
	DeltaKindAdded   DeltaKind = 0
	DeltaKindChanged DeltaKind = 1
	DeltaKindRemoved DeltaKind = 2
)

type Facet struct {
	Id          string            `cbor:"1,keyasint,omitempty"`
	Type        string            `cbor:"2,keyasint,omitempty"`
	Content     string            `cbor:"3,keyasint,omitempty"`
	StateJson   []byte            `cbor:"4,keyasint,omitempty"`
	Tags        []string          `cbor:"5,keyasint,omitempty"`
	Attributes  map[string]string `cbor:"6,keyasint,omitempty"`
	AgentId     string            `cbor:"7,keyasint,omitempty"`
	AgentName   string            `cbor:"8,keyasint,omitempty"`
	StreamId    string            `cbor:"9,keyasint,omitempty"`
	StreamType  string            `cbor:"10,keyasint,omitempty"`
	Scopes      []string          `cbor:"11,keyasint,omitempty"`
	Ephemeral   bool              `cbor:"12,keyasint,omitempty"`
	Children    []*Facet          `cbor:"13,keyasint,omitempty"`
	Attachments []*Attachment     `cbor:"14,keyasint,omitempty"`
}

type Attachment struct {
	Id          string            `cbor:"1,keyasint,omitempty"`
	ContentType string            `cbor:"2,keyasint,omitempty"`
	Data        []byte            `cbor:"3,keyasint,omitempty"`
	Url         string            `cbor:"4,keyasint,omitempty"`
	SizeBytes   int64             `cbor:"5,keyasint,omitempty"`
	Filename    string            `cbor:"6,keyasint,omitempty"`
	Metadata    map[string]string `cbor:"7,keyasint,omitempty"`
}

type ComponentRef struct {
	ComponentId   string   `cbor:"1,keyasint,omitempty"`
	ComponentPath []string `cbor:"2,keyasint,omitempty"`
	ComponentType string   `cbor:"3,keyasint,omitempty"`
}

type SpaceEvent struct {
	Topic           string            `cbor:"1,keyasint,omitempty"`
	Source          *ComponentRef     `cbor:"2,keyasint,omitempty"`
	PayloadJson     []byte            `cbor:"3,keyasint,omitempty"`
	TimestampMillis int64             `cbor:"4,keyasint,omitempty"`
	Priority        Priority          `cbor:"5,keyasint,omitempty"`
	Sync            bool              `cbor:"6,keyasint,omitempty"`
	MetadataJson    map[string][]byte `cbor:"7,keyasint,omitempty"`
}

type FacetDelta struct {
	Kind      DeltaKind `cbor:"1,keyasint,omitempty"`
	Facet     *Facet    `cbor:"2,keyasint,omitempty"`
	Previous  *Facet    `cbor:"3,keyasint,omitempty"`
	Sequence  uint64    `cbor:"4,keyasint,omitempty"`
	FrameUuid string    `cbor:"5,keyasint,omitempty"`
}

type Health struct {
}

type HealthResult struct {
	Success bool `cbor:"1,keyasint,omitempty"`
}

type EmitEvent struct {
	Event        *SpaceEvent `cbor:"1,keyasint,omitempty"`
	WaitForFrame bool        `cbor:"2,keyasint,omitempty"`
}

type EmitEventResult struct {
	Success   bool          `cbor:"1,keyasint,omitempty"`
	Sequence  uint64        `cbor:"2,keyasint,omitempty"`
	FrameUuid string        `cbor:"3,keyasint,omitempty"`
	Deltas    []*FacetDelta `cbor:"4,keyasint,omitempty"`
	Error     string        `cbor:"5,keyasint,omitempty"`
}

type SubscribeToFacets struct {
	FacetTypes       []string          `cbor:"1,keyasint,omitempty"`
	AspectFilters    map[string]string `cbor:"2,keyasint,omitempty"`
	AttributeFilters map[string]string `cbor:"3,keyasint,omitempty"`
	IncludeExisting  bool              `cbor:"4,keyasint,omitempty"`
	FromSequence     uint64            `cbor:"5,keyasint,omitempty"`
	StreamIds        []string          `cbor:"6,keyasint,omitempty"`
}

type RegisterAgent struct {
	AgentId      string            `cbor:"1,keyasint,omitempty"`
	AgentName    string            `cbor:"2,keyasint,omitempty"`
	AgentType    string            `cbor:"3,keyasint,omitempty"`
	Capabilities []string          `cbor:"4,keyasint,omitempty"`
	MetadataJson map[string][]byte `cbor:"5,keyasint,omitempty"`
}

type RegisterAgentResult struct {
	AgentId      string `cbor:"1,keyasint,omitempty"`
	SessionToken string `cbor:"2,keyasint,omitempty"`
	Success      bool   `cbor:"3,keyasint,omitempty"`
	Error        string `cbor:"4,keyasint,omitempty"`
}

type GetContext struct {
	AgentId    string   `cbor:"1,keyasint,omitempty"`
	StreamId   string   `cbor:"2,keyasint,omitempty"`
	MaxFrames  int32    `cbor:"3,keyasint,omitempty"`
	MaxTokens  int32    `cbor:"4,keyasint,omitempty"`
	FacetTypes []string `cbor:"5,keyasint,omitempty"`
}

type GetContextResult struct {
	// JSON text, decoded by the caller
	ContextBytes []byte `cbor:"1,keyasint,omitempty"`
	TokenCount   int32  `cbor:"2,keyasint,omitempty"`
	FrameCount   int32  `cbor:"3,keyasint,omitempty"`
	Error        string `cbor:"4,keyasint,omitempty"`
}

type CreateStream struct {
	StreamId     string            `cbor:"1,keyasint,omitempty"`
	StreamType   string            `cbor:"2,keyasint,omitempty"`
	MetadataJson map[string][]byte `cbor:"3,keyasint,omitempty"`
}

type CreateStreamResult struct {
	Success bool   `cbor:"1,keyasint,omitempty"`
	Error   string `cbor:"2,keyasint,omitempty"`
}

type GetStateSnapshot struct {
	Sequence   uint64   `cbor:"1,keyasint,omitempty"`
	FacetTypes []string `cbor:"2,keyasint,omitempty"`
	StreamIds  []string `cbor:"3,keyasint,omitempty"`
}

type StreamInfo struct {
	StreamId     string            `cbor:"1,keyasint,omitempty"`
	StreamType   string            `cbor:"2,keyasint,omitempty"`
	MetadataJson map[string][]byte `cbor:"3,keyasint,omitempty"`
}

type AgentInfo struct {
	AgentId      string   `cbor:"1,keyasint,omitempty"`
	AgentName    string   `cbor:"2,keyasint,omitempty"`
	AgentType    string   `cbor:"3,keyasint,omitempty"`
	Capabilities []string `cbor:"4,keyasint,omitempty"`
}

type GetStateSnapshotResult struct {
	Sequence uint64        `cbor:"1,keyasint,omitempty"`
	Facets   []*Facet      `cbor:"2,keyasint,omitempty"`
	Streams  []*StreamInfo `cbor:"3,keyasint,omitempty"`
	Agents   []*AgentInfo  `cbor:"4,keyasint,omitempty"`
	Error    string        `cbor:"5,keyasint,omitempty"`
}

type GetFrames struct {
	StreamId     string `cbor:"1,keyasint,omitempty"`
	FromSequence uint64 `cbor:"2,keyasint,omitempty"`
	MaxFrames    int32  `cbor:"3,keyasint,omitempty"`
}

type FrameRecord struct {
	FrameUuid       string        `cbor:"1,keyasint,omitempty"`
	Sequence        uint64        `cbor:"2,keyasint,omitempty"`
	Topic           string        `cbor:"3,keyasint,omitempty"`
	TimestampMillis int64         `cbor:"4,keyasint,omitempty"`
	Deltas          []*FacetDelta `cbor:"5,keyasint,omitempty"`
}

type GetFramesResult struct {
	Frames          []*FrameRecord `cbor:"1,keyasint,omitempty"`
	CurrentSequence uint64         `cbor:"2,keyasint,omitempty"`
	Error           string         `cbor:"3,keyasint,omitempty"`
}

type ActivateAgent struct {
	AgentId      string            `cbor:"1,keyasint,omitempty"`
	StreamId     string            `cbor:"2,keyasint,omitempty"`
	Reason       string            `cbor:"3,keyasint,omitempty"`
	Priority     Priority          `cbor:"4,keyasint,omitempty"`
	MetadataJson map[string][]byte `cbor:"5,keyasint,omitempty"`
}

type ActivateAgentResult struct {
	Success      bool   `cbor:"1,keyasint,omitempty"`
	ActivationId string `cbor:"2,keyasint,omitempty"`
	Error        string `cbor:"3,keyasint,omitempty"`
}
