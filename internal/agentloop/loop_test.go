package agentloop_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/agentloop"
	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/executor"
	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/tools"
)

// fakeStreamer replays a fixed chunk sequence, ignoring the request.
type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (f *fakeStreamer) Recv() (model.Chunk, error) {
	if f.i >= len(f.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

func (f *fakeStreamer) Close() error { return nil }

// fakeClient returns one canned Streamer per call, in order.
type fakeClient struct {
	streams []*fakeStreamer
	call    int
}

func (f *fakeClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	s := f.streams[f.call]
	f.call++
	return s, nil
}

func (f *fakeClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return model.Response{}, nil
}

func textOnlyStream(text string) *fakeStreamer {
	return &fakeStreamer{chunks: []model.Chunk{
		{Kind: model.ChunkKindText, Text: text},
		{Kind: model.ChunkKindMessageStop, StopReason: model.StopReasonEndTurn, Usage: model.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
}

func TestLoopRunTextOnlyTurnEmitsDone(t *testing.T) {
	client := &fakeClient{streams: []*fakeStreamer{textOnlyStream("hello there")}}
	registry, err := tools.NewRegistry()
	require.NoError(t, err)
	exec := executor.New(registry)
	loop := agentloop.New(client, registry, exec, nil, agentloop.Config{})

	var events []bus.Event
	result, err := loop.Run(context.Background(), agentloop.Input{
		Question:    "what is up",
		ToolContext: &tools.Context{},
	}, func(e bus.Event) { events = append(events, e) })

	require.NoError(t, err)
	assert.Equal(t, "hello there", result.FinalText)

	var sawDone bool
	for _, e := range events {
		if e.Kind == bus.EventKindDone {
			sawDone = true
		}
	}
	assert.True(t, sawDone)
}

func TestLoopRunContextOnlySkipsModelCall(t *testing.T) {
	client := &fakeClient{} // no streams configured; must not be called
	registry, err := tools.NewRegistry()
	require.NoError(t, err)
	exec := executor.New(registry)
	loop := agentloop.New(client, registry, exec, nil, agentloop.Config{})

	var events []bus.Event
	result, err := loop.Run(context.Background(), agentloop.Input{ContextOnly: true}, func(e bus.Event) {
		events = append(events, e)
	})

	require.NoError(t, err)
	assert.Equal(t, agentloop.Result{}, result)
	require.Len(t, events, 2)
	assert.Equal(t, bus.EventKindDone, events[1].Kind)
}

func TestLoopRunDispatchesToolCallThenFinishes(t *testing.T) {
	toolUseStream := &fakeStreamer{chunks: []model.Chunk{
		{Kind: model.ChunkKindToolUseStart, ToolUseID: "tu_1", ToolUseName: "echo"},
		{Kind: model.ChunkKindToolUseDelta, ToolUseID: "tu_1", ToolUseInputDelta: `{"query":"ping"}`},
		{Kind: model.ChunkKindToolUseEnd, ToolUseID: "tu_1"},
		{Kind: model.ChunkKindMessageStop, StopReason: model.StopReasonToolUse, Usage: model.Usage{InputTokens: 3, OutputTokens: 2}},
	}}
	client := &fakeClient{streams: []*fakeStreamer{toolUseStream, textOnlyStream("done")}}

	var executed bool
	spec := &tools.Spec{
		Name: "echo",
		Execute: func(ctx *tools.Context, input map[string]any) (tools.Result, error) {
			executed = true
			assert.Equal(t, "ping", input["query"])
			return tools.Result{Content: "pong", Success: true}, nil
		},
	}
	registry, err := tools.NewRegistry(spec)
	require.NoError(t, err)
	exec := executor.New(registry)
	loop := agentloop.New(client, registry, exec, nil, agentloop.Config{})

	result, err := loop.Run(context.Background(), agentloop.Input{
		Question:    "ping the thing",
		ToolContext: &tools.Context{},
	}, func(bus.Event) {})

	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, "done", result.FinalText)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "tu_1", result.ToolCalls[0].ToolUseID)
	assert.Equal(t, "echo", result.ToolCalls[0].Tool)
}

// blockingStreamer never returns from Recv() on its own; it only unblocks
// when Close() is called, standing in for a provider SDK's stream reader
// blocked on the underlying HTTP body.
type blockingStreamer struct {
	closed chan struct{}
}

func newBlockingStreamer() *blockingStreamer {
	return &blockingStreamer{closed: make(chan struct{})}
}

func (s *blockingStreamer) Recv() (model.Chunk, error) {
	<-s.closed
	return model.Chunk{}, io.EOF
}

func (s *blockingStreamer) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

type blockingClient struct {
	stream *blockingStreamer
}

func (f *blockingClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return f.stream, nil
}

func (f *blockingClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return model.Response{}, nil
}

// TestLoopRunCancelAbortsBlockedStream verifies that cancelling Run's
// context unblocks a Recv() call that would otherwise never return on its
// own, by forcing the stream closed (SPEC_FULL §5, §9).
func TestLoopRunCancelAbortsBlockedStream(t *testing.T) {
	stream := newBlockingStreamer()
	client := &blockingClient{stream: stream}
	registry, err := tools.NewRegistry()
	require.NoError(t, err)
	exec := executor.New(registry)
	loop := agentloop.New(client, registry, exec, nil, agentloop.Config{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, runErr := loop.Run(ctx, agentloop.Input{
			Question:    "hang forever",
			ToolContext: &tools.Context{},
		}, func(bus.Event) {})
		done <- runErr
	}()

	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after cancel; blocked Recv() was not aborted")
	}
}
