// Package bus implements the Event Bus: named pub/sub channels plus a
// durable per-job state snapshot, TTL-bounded, backed by Redis. State
// mutation and event publish happen as one atomic pipeline so a subscriber
// never observes a published event whose state effects have not yet been
// applied (see SPEC_FULL §4.1).
package bus

import "time"

// EventKind discriminates the polymorphic event stream the Agent Loop
// emits. It is the tag of Event, a single envelope struct whose optional
// fields are grouped by kind.
type EventKind string

const (
	EventKindStatus     EventKind = "status"
	EventKindPlan       EventKind = "plan"
	EventKindToolCall   EventKind = "tool_call"
	EventKindToolResult EventKind = "tool_result"
	EventKindSources    EventKind = "sources"
	EventKindThinking   EventKind = "thinking"
	EventKindChunk      EventKind = "chunk"
	EventKindUsage      EventKind = "usage"
	EventKindDone       EventKind = "done"
	EventKindError      EventKind = "error"
)

// Phase is the coarse-grained lifecycle phase recorded in the state
// snapshot.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseSearching    Phase = "searching"
	PhaseThinking     Phase = "thinking"
	PhaseResponding   Phase = "responding"
	PhaseDone         Phase = "done"
)

// Source is one citation surfaced alongside an assistant response.
type Source struct {
	Index   int    `json:"index"`
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

// ActivityEntry is one append-only record in the state snapshot's activity
// log: a phase change, a tool call, or a tool result.
type ActivityEntry struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"` // phase_change | tool_call | tool_result
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Event is the wire-stable envelope for one emitted event. Only the field
// group for Kind is populated; every other field is left at its zero value
// and omitted from the JSON form.
type Event struct {
	Kind EventKind `json:"kind"`

	// status
	Status string `json:"status,omitempty"`

	// plan
	Category         string `json:"category,omitempty"`
	Acknowledgment   string `json:"acknowledgment,omitempty"`
	Complexity       string `json:"complexity,omitempty"`
	SearchStrategy   string `json:"search_strategy,omitempty"`

	// tool_call / tool_result
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Query     string         `json:"query,omitempty"`
	Found     int            `json:"found,omitempty"`
	ToolMeta  map[string]any `json:"tool_meta,omitempty"`
	Success   bool           `json:"success,omitempty"`

	// sources
	Sources []Source `json:"sources,omitempty"`

	// thinking / chunk
	Content string `json:"content,omitempty"`

	// usage
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// done
	MessageID string `json:"message_id,omitempty"`

	// error
	Message   string `json:"message,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// State is the durable per-job snapshot readers attach to. It is
// JSON-encoded as a whole into the Redis hash's single "snapshot" field
// (rather than exploded into individual hash fields) so the pipeline's
// single HSET keeps the whole struct atomic against partial-field races —
// matching the teacher's own JSONCodec[T] pattern for wire-stable
// serialization of structured state.
type State struct {
	CurrentPhase  Phase           `json:"current_phase"`
	CurrentAction string          `json:"current_action"`
	Content       string          `json:"content"`
	Sources       []Source        `json:"sources"`
	Thinking      string          `json:"thinking"`
	Activity      []ActivityEntry `json:"activity"`
	Status        string          `json:"status"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	InputTokens   int             `json:"input_tokens"`
	OutputTokens  int             `json:"output_tokens"`
}

// Apply mutates s according to the event->state table in SPEC_FULL §4.1.
// It never publishes anything; the caller (Bus.Publish) applies the
// mutation and publishes the raw event in one atomic pipeline.
func (s *State) Apply(e Event, now time.Time, idFunc func() string) {
	switch e.Kind {
	case EventKindStatus:
		s.Status = e.Status
		if s.CurrentPhase == "" {
			s.CurrentPhase = PhaseInitializing
			t := now
			s.StartedAt = &t
		}
	case EventKindPlan:
		s.CurrentPhase = PhasePlanning
		s.CurrentAction = e.Acknowledgment
		s.Activity = append(s.Activity, ActivityEntry{
			ID: idFunc(), Kind: "phase_change", Timestamp: now,
			Fields: map[string]any{"category": e.Category, "complexity": e.Complexity, "search_strategy": e.SearchStrategy},
		})
	case EventKindToolCall:
		s.CurrentPhase = PhaseSearching
		s.CurrentAction = "Searching " + e.Tool
		s.Activity = append(s.Activity, ActivityEntry{
			ID: e.ToolUseID, Kind: "tool_call", Timestamp: now,
			Fields: map[string]any{"tool": e.Tool, "query": e.Query},
		})
	case EventKindToolResult:
		s.CurrentPhase = PhaseThinking
		s.CurrentAction = "Processing results"
		s.Activity = append(s.Activity, ActivityEntry{
			ID: e.ToolUseID, Kind: "tool_result", Timestamp: now,
			Fields: map[string]any{"tool": e.Tool, "found": e.Found, "success": e.Success},
		})
	case EventKindThinking:
		s.CurrentPhase = PhaseThinking
		s.CurrentAction = "Deep thinking"
		s.Thinking += e.Content
	case EventKindChunk:
		if s.CurrentPhase != PhaseResponding {
			s.CurrentPhase = PhaseResponding
		}
		s.Content += e.Content
	case EventKindSources:
		s.Sources = e.Sources
	case EventKindUsage:
		s.InputTokens = e.InputTokens
		s.OutputTokens = e.OutputTokens
	case EventKindDone:
		s.CurrentPhase = PhaseDone
		s.Status = "completed"
	case EventKindError:
		s.CurrentPhase = PhaseDone
		s.Status = "failed"
		if e.Cancelled {
			s.Status = "cancelled"
		}
	}
}

// IsTerminal reports whether e ends the event stream.
func (e Event) IsTerminal() bool {
	return e.Kind == EventKindDone || e.Kind == EventKindError
}
