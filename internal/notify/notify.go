// Package notify implements the Notification Policy in SPEC_FULL §4.6: a
// completed job only raises a notification if nobody was actively watching
// it, suppressed by a recent poll_watermark; a failed job always raises
// one regardless of watermark.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/simage-ai/convoengine/internal/store"
)

// SuppressWindow is how recently poll_watermark must have been touched for
// a completed job's notification to be suppressed — an observer is
// considered "actively watching" if they polled or attached within this
// window of the job's completion.
const SuppressWindow = 10 * time.Second

// notificationStore is the narrow persistence seam Notifier depends on,
// satisfied by *store.Store; tests substitute a fake.
type notificationStore interface {
	CreateNotification(ctx context.Context, n store.Notification) (*store.Notification, error)
}

// Notifier decides whether to raise a notification for a terminal job and
// persists it when it does.
type Notifier struct {
	store notificationStore
	now   func() time.Time
}

// New constructs a Notifier. now defaults to time.Now.
func New(s notificationStore, now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{store: s, now: now}
}

// JobCompleted applies the suppression rule: no notification is raised if
// poll_watermark was touched within SuppressWindow of completion, since
// that means someone was watching the job live and already saw the
// answer arrive.
func (n *Notifier) JobCompleted(ctx context.Context, j *store.Job) error {
	if j.CompletedAt != nil && j.CompletedAt.Sub(j.PollWatermark) < SuppressWindow {
		return nil
	}
	_, err := n.store.CreateNotification(ctx, store.Notification{
		ProjectID: j.ProjectID,
		ThreadID:  j.ThreadID,
		JobID:     j.ID,
		Kind:      store.NotificationKindJobCompleted,
		Title:     "Answer ready",
		Body:      truncate(j.PartialResponse, 200),
	})
	return err
}

// JobFailed always raises a notification — a failure is never something
// the user is assumed to already know about just from watching, since the
// stream may have died silently partway through.
func (n *Notifier) JobFailed(ctx context.Context, j *store.Job) error {
	reason := ""
	if j.ErrorMessage != nil {
		reason = *j.ErrorMessage
	}
	_, err := n.store.CreateNotification(ctx, store.Notification{
		ProjectID: j.ProjectID,
		ThreadID:  j.ThreadID,
		JobID:     j.ID,
		Kind:      store.NotificationKindJobFailed,
		Title:     "Something went wrong",
		Body:      fmt.Sprintf("The assistant couldn't finish this turn: %s", reason),
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
