package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/notify"
	"github.com/simage-ai/convoengine/internal/store"
)

type fakeNotificationStore struct {
	created []store.Notification
}

func (f *fakeNotificationStore) CreateNotification(ctx context.Context, n store.Notification) (*store.Notification, error) {
	f.created = append(f.created, n)
	return &n, nil
}

func TestJobCompletedSuppressedWhenRecentlyWatched(t *testing.T) {
	fake := &fakeNotificationStore{}
	n := notify.New(fake, time.Now)

	completedAt := time.Now()
	watermark := completedAt.Add(-5 * time.Second)
	job := &store.Job{
		ID: "job-1", ProjectID: "proj-1", ThreadID: "thread-1",
		CompletedAt: &completedAt, PollWatermark: watermark,
	}

	require.NoError(t, n.JobCompleted(context.Background(), job))
	assert.Empty(t, fake.created)
}

func TestJobCompletedRaisedWhenNotRecentlyWatched(t *testing.T) {
	fake := &fakeNotificationStore{}
	n := notify.New(fake, time.Now)

	completedAt := time.Now()
	watermark := completedAt.Add(-time.Hour)
	job := &store.Job{
		ID: "job-2", ProjectID: "proj-2", ThreadID: "thread-2",
		CompletedAt: &completedAt, PollWatermark: watermark, PartialResponse: "the answer",
	}

	require.NoError(t, n.JobCompleted(context.Background(), job))
	require.Len(t, fake.created, 1)
	assert.Equal(t, store.NotificationKindJobCompleted, fake.created[0].Kind)
}

func TestJobFailedAlwaysRaisesNotification(t *testing.T) {
	fake := &fakeNotificationStore{}
	n := notify.New(fake, time.Now)

	reason := "tool execution timed out"
	job := &store.Job{ID: "job-3", ProjectID: "proj-3", ThreadID: "thread-3", ErrorMessage: &reason}

	require.NoError(t, n.JobFailed(context.Background(), job))
	require.Len(t, fake.created, 1)
	assert.Equal(t, store.NotificationKindJobFailed, fake.created[0].Kind)
	assert.Contains(t, fake.created[0].Body, reason)
}
