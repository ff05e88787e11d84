// Package store is the relational persistence layer: Job/Thread/Turn/
// Resource/Notification/Finding, backed by pgx/v5 against the schema in
// migrations/ (see SPEC_FULL §3.1). Status transitions are guarded by a
// WHERE status = $expected compare-and-swap on UPDATE.
package store

import "time"

// JobStatus is one of the five legal job states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether s admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is the execution record for one user turn.
type Job struct {
	ID              string
	ProjectID       string
	ThreadID        string
	Status          JobStatus
	Question        string
	ContextOnly     bool
	PartialResponse string
	AssistantTurnID *string
	PollWatermark   time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMS      *int64
	InputTokens     int
	OutputTokens    int
	ErrorMessage    *string
	CreatedAt       time.Time
}

// Thread is an ordered sequence of turns within a project.
type Thread struct {
	ID             string
	ProjectID      string
	ParentThreadID *string
	ParentTurnID   *string
	ContextText    string
	Title          string
	DeletedAt      *time.Time
	CreatedAt      time.Time
}

// TurnRole is user or assistant.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one immutable message in a thread.
type Turn struct {
	ID            string
	ThreadID      string
	Role          TurnRole
	Content       string
	SourcesJSON   []byte
	ToolCallsJSON []byte
	CreatedAt     time.Time
}

// Resource is a typed workspace artifact tools operate against.
type Resource struct {
	ID        string
	ProjectID string
	Name      string
	Type      string
	Status    string
	Summary   string
	FilePath  string
	RowCount  int
	Columns   []ResourceColumn
	Width     int
	Height    int
	CreatedAt time.Time
}

// ResourceColumn describes one column of a tabular resource.
type ResourceColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NotificationKind is job_completed or job_failed.
type NotificationKind string

const (
	NotificationKindJobCompleted NotificationKind = "job_completed"
	NotificationKindJobFailed    NotificationKind = "job_failed"
)

// Notification is a user-visible alert about a job's terminal state.
type Notification struct {
	ID        string
	ProjectID string
	ThreadID  string
	JobID     string
	Kind      NotificationKind
	Title     string
	Body      string
	Read      bool
	ReadAt    *time.Time
	CreatedAt time.Time
}

// Finding is a short excerpt saved during a job.
type Finding struct {
	ID        string
	ProjectID string
	ThreadID  string
	Content   string
	Note      string
	CreatedAt time.Time
}

// Project owns threads, jobs, resources, and notifications.
type Project struct {
	ID                  string
	UserID              string
	SystemInstructions  string
	LastThreadID        *string
	CreatedAt           time.Time
}
