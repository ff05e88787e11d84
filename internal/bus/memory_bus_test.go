package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/bus"
)

func TestMemoryBusSubscribeReceivesCurrentSnapshotFirst(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "proj-1", "job-1", bus.Event{Kind: bus.EventKindStatus, Status: "running"}))

	sub, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	e, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "running", e.Status)
}

func TestMemoryBusPublishDeliversToSubscriber(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "job-2")
	require.NoError(t, err)
	defer sub.Close()

	// drain the initial snapshot event
	_, ok := sub.Next(ctx)
	require.True(t, ok)

	require.NoError(t, b.Publish(ctx, "proj-2", "job-2", bus.Event{Kind: bus.EventKindChunk, Content: "hello"}))

	e, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "hello", e.Content)
}

func TestMemoryBusSnapshotReflectsAppliedEvents(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "proj-3", "job-3", bus.Event{Kind: bus.EventKindStatus, Status: "succeeded"}))

	state, ok, err := b.Snapshot(ctx, "job-3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "succeeded", state.Status)
}

func TestMemoryBusClearRemovesSnapshot(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "proj-4", "job-4", bus.Event{Kind: bus.EventKindStatus, Status: "running"}))
	require.NoError(t, b.Clear(ctx, "job-4"))

	_, ok, err := b.Snapshot(ctx, "job-4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBusProjectSubscriberIgnoresChunkEvents(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	ch, cancel, err := b.SubscribeProject(ctx, "proj-5")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "proj-5", "job-5", bus.Event{Kind: bus.EventKindChunk, Content: "ignored"}))
	require.NoError(t, b.Publish(ctx, "proj-5", "job-5", bus.Event{Kind: bus.EventKindDone}))

	select {
	case update := <-ch:
		assert.Equal(t, "job-5", update.JobID)
		assert.Equal(t, "completed", update.Status, "first update must come from the done event, not the chunk")
	case <-time.After(time.Second):
		t.Fatal("expected a project update for the done event")
	}
}
