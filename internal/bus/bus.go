package bus

import (
	"context"
	"time"
)

// ProjectUpdate is the terse job_update broadcast on a project's channel,
// used for sidebar status indicators. Neither Bus implementation fills in
// ThreadID (Publish receives no thread id), so it is empty on the wire and
// JobID is the only identifier an update carries.
type ProjectUpdate struct {
	ThreadID string `json:"thread_id"`
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
}

// GlobalUpdate carries the same information for cross-project observers on
// the single global channel; ThreadID is likewise left empty.
type GlobalUpdate struct {
	ProjectID string `json:"project"`
	ThreadID  string `json:"thread"`
	JobID     string `json:"job"`
	Status    string `json:"status"`
}

// Subscription is an iterator over one job's live event stream. The first
// value Next returns is always a synthetic EventKindStatus event built from
// the attach-time State; it carries only the snapshot's Status and Content
// (phase, sources, thinking and activity are not included and are read with
// Bus.Snapshot). Delivery is at-least-once: callers must tolerate duplicate
// events.
type Subscription interface {
	// Next blocks until an event is available, ctx is cancelled, or the
	// subscription ends after a terminal event. ok is false only when the
	// subscription has permanently ended.
	Next(ctx context.Context) (Event, bool)
	Close()
}

// Bus is the Event Bus contract §4.1 describes: a publish primitive and a
// state snapshot, keyed per job, plus project-wide and global broadcast
// channels.
type Bus interface {
	// Publish derives the state mutation for e, applies it, and publishes e
	// on the job's channel as one atomic operation, then refreshes the
	// job-state TTL. It also publishes a ProjectUpdate and GlobalUpdate
	// alongside it when e carries a status change worth broadcasting
	// (status, done, error).
	Publish(ctx context.Context, projectID, jobID string, e Event) error

	// Snapshot returns the current durable state for jobID, or ok=false if
	// none exists (expired or never started).
	Snapshot(ctx context.Context, jobID string) (State, bool, error)

	// Subscribe attaches to jobID's live stream. The returned Subscription's
	// first Next() call returns the attach-time snapshot's Status and Content
	// wrapped as a synthetic status event; subsequent calls return the live
	// stream.
	Subscribe(ctx context.Context, jobID string) (Subscription, error)

	// SubscribeProject attaches to a project's job_update broadcast.
	SubscribeProject(ctx context.Context, projectID string) (<-chan ProjectUpdate, func(), error)

	// Clear removes a job's durable state, used after the grace period
	// following a terminal event elapses.
	Clear(ctx context.Context, jobID string) error
}

// Clock is injected so tests can control "now" without depending on
// wall-clock time; production code uses time.Now.
type Clock func() time.Time
