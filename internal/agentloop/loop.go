// Package agentloop drives one assistant turn end-to-end: streaming model
// calls interleaved with tool calls, emitting the canonical bus.Event
// stream (see SPEC_FULL §4.3). It depends only on internal/model's
// provider-agnostic interfaces and internal/tools' registry/executor, never
// on a concrete transport.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/executor"
	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/tools"
)

// maxIterations bounds the tool-call/model-call loop as a last-resort
// safety valve against a misbehaving model issuing tool calls forever; it
// is not part of the spec's own algorithm, which has no hard cap.
const maxIterations = 64

// Config controls optional phases of the loop.
type Config struct {
	// PlanEnabled gates the optional plan pre-step (default true, matching
	// the original).
	PlanEnabled bool
	MaxTokens   int
}

// Planner issues the single non-streaming classification call that
// produces the optional plan event, kept as a narrow seam so Loop doesn't
// need a second Client method beyond Complete.
type Planner interface {
	Classify(ctx context.Context, question string) (Plan, error)
}

// Plan is the result of the pre-loop classification pass.
type Plan struct {
	Category       string
	Acknowledgment string
	Complexity     string
	SearchStrategy string
}

// Input is everything one Agent Loop invocation needs.
type Input struct {
	Question    string
	Transcript  []model.TranscriptEntry
	Resources   []tools.ResourceView
	SystemInstructions string // already includes subthread context, built once by the caller

	ContextOnly  bool
	HasDocuments bool
	HasDataFiles bool
	HasImages    bool

	ToolContext *tools.Context
}

// Result is the terminal outcome of a Run call.
type Result struct {
	FinalText    string
	Sources      []bus.Source
	InputTokens  int
	OutputTokens int
	ToolCalls    []ToolCallRecord
}

// ToolCallRecord is one {tool, query, found, duration_ms} entry attached to
// the assistant Turn's tool_calls_json column (SPEC_FULL §4.4.1). Keyed by
// tool-use id rather than tool name — the original's tool_call_map keys by
// name, which collides when a turn issues two concurrent calls to the same
// tool; this port fixes that latent bug (see DESIGN.md).
type ToolCallRecord struct {
	ToolUseID  string
	Tool       string
	Query      string
	Found      int
	DurationMS int64
}

// Loop drives the algorithm in SPEC_FULL §4.3.
type Loop struct {
	client   model.Client
	registry *tools.Registry
	exec     *executor.Executor
	planner  Planner
	cfg      Config
}

// New constructs a Loop.
func New(client model.Client, registry *tools.Registry, exec *executor.Executor, planner Planner, cfg Config) *Loop {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &Loop{client: client, registry: registry, exec: exec, planner: planner, cfg: cfg}
}

// Run executes one assistant turn, emitting typed events through emit and
// returning once a terminal event (done or error) has been emitted.
// Run itself never returns an error for a recoverable tool failure — those
// surface as a tool_result inside the stream. It returns an error when a
// model call fails (after emitting an error event), when the loop exceeds
// maxIterations (likewise after an error event), and when ctx is cancelled
// or times out (returning ctx.Err() without emitting an error event).
func (l *Loop) Run(ctx context.Context, in Input, emit func(bus.Event)) (Result, error) {
	if in.ContextOnly {
		// context_only turns build history without driving the model; the
		// caller is responsible for not invoking Run for those (see Job
		// Runner), but guard defensively since a bug here would otherwise
		// silently skip straight to done.
		emit(bus.Event{Kind: bus.EventKindStatus, Status: "running"})
		emit(bus.Event{Kind: bus.EventKindDone})
		return Result{}, nil
	}

	emit(bus.Event{Kind: bus.EventKindStatus, Status: "running"})

	if l.cfg.PlanEnabled && l.planner != nil {
		plan, err := l.planner.Classify(ctx, in.Question)
		if err == nil {
			emit(bus.Event{
				Kind: bus.EventKindPlan, Category: plan.Category, Acknowledgment: plan.Acknowledgment,
				Complexity: plan.Complexity, SearchStrategy: plan.SearchStrategy,
			})
		}
	}

	system := BuildSystemPrompt(in.Resources, in.SystemInstructions)
	messages := append([]*model.Message{}, model.BuildMessagesFromTranscript(in.Transcript)...)
	messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: in.Question}}})

	available := l.registry.Available(in.ToolContext)
	toolDefs := make([]model.ToolDef, 0, len(available))
	for _, s := range available {
		var schema map[string]any
		_ = json.Unmarshal(s.InputSchema, &schema)
		toolDefs = append(toolDefs, model.ToolDef{Name: string(s.Name), Description: s.Description, InputSchema: schema})
	}

	var (
		finalText    string
		allSources   []bus.Source
		totalIn      int
		totalOut     int
		toolCalls    []ToolCallRecord
	)

	for iter := 0; iter < maxIterations; iter++ {
		req := model.Request{
			System:    system,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: l.cfg.MaxTokens,
		}
		if len(toolDefs) > 0 {
			req.EnableThinking = true
			req.InterleavedThinking = true
			req.ThinkingBudgetTokens = 4096
		}

		assistantParts, toolUses, stop, usage, err := l.consumeStream(ctx, req, emit)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled or timed out: the caller (cancelJob, or the
				// worker's hard time limit) already recorded the terminal
				// state and, for an explicit cancel, already published its
				// own error(cancelled) event — emitting a second, generic
				// error event here would just be noise on top of it.
				return Result{}, ctx.Err()
			}
			emit(bus.Event{Kind: bus.EventKindError, Message: err.Error()})
			return Result{}, err
		}
		totalIn += usage.InputTokens
		totalOut += usage.OutputTokens
		emit(bus.Event{Kind: bus.EventKindUsage, InputTokens: totalIn, OutputTokens: totalOut})

		for _, p := range assistantParts {
			if tp, ok := p.(model.TextPart); ok {
				finalText += tp.Text
			}
		}

		messages = append(messages, &model.Message{Role: model.ConversationRoleAssistant, Parts: assistantParts})

		if stop != model.StopReasonToolUse || len(toolUses) == 0 {
			emit(bus.Event{Kind: bus.EventKindSources, Sources: allSources})
			emit(bus.Event{Kind: bus.EventKindStatus, Status: "responding"})
			emit(bus.Event{Kind: bus.EventKindDone})
			return Result{FinalText: finalText, Sources: allSources, InputTokens: totalIn, OutputTokens: totalOut, ToolCalls: toolCalls}, nil
		}

		resultParts := make([]model.Part, 0, len(toolUses))
		for _, tu := range toolUses {
			callStart := time.Now()
			outcome := l.exec.Dispatch(in.ToolContext, emit, executor.Call{ID: tu.ID, Name: tu.Name, Input: tu.Input})
			duration := time.Since(callStart)

			resultParts = append(resultParts, model.ToolResultPart{ToolUseID: tu.ID, Content: outcome.Content, IsError: outcome.IsError})
			allSources = append(allSources, outcome.Sources...)
			toolCalls = append(toolCalls, ToolCallRecord{
				ToolUseID: tu.ID, Tool: tu.Name, Query: summarize(tu.Input),
				Found: len(outcome.Sources), DurationMS: duration.Milliseconds(),
			})
		}
		if len(allSources) > 0 {
			emit(bus.Event{Kind: bus.EventKindSources, Sources: allSources})
		}
		messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: resultParts})
	}

	err := fmt.Errorf("agentloop: exceeded %d iterations without reaching a terminal stop reason", maxIterations)
	emit(bus.Event{Kind: bus.EventKindError, Message: err.Error()})
	return Result{}, err
}

func summarize(input map[string]any) string {
	for _, key := range []string{"query", "resource_name", "content"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type pendingToolUse struct {
	id, name string
	raw      []byte
}

// consumeStream reads one streamed model call to completion, forwarding
// thinking/text chunks as events and collecting tool_use blocks. It
// preserves reasoning blocks verbatim (text plus signature) as ThinkingParts
// in stream order, ahead of the turn's tool_use parts, per the design note
// in SPEC_FULL §9.
func (l *Loop) consumeStream(ctx context.Context, req model.Request, emit func(bus.Event)) ([]model.Part, []executor.Call, model.StopReason, model.Usage, error) {
	stream, err := l.client.Stream(ctx, req)
	if err != nil {
		return nil, nil, "", model.Usage{}, err
	}
	defer stream.Close()

	// stream.Recv() blocks on the provider's HTTP body; the ctx.Done() check
	// in the read loop below only runs between Recv() calls, so a cancel
	// arriving mid-read would otherwise wait for the next chunk. Closing the
	// stream handle here unblocks it immediately (SPEC_FULL §5, §9).
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-watchDone:
		}
	}()

	var (
		parts      []model.Part
		textBuf    string
		thinkBuf   string
		thinkSig   string
		pending    = map[string]*pendingToolUse{}
		order      []string
		stop       model.StopReason
		usage      model.Usage
	)

	flushText := func() {
		if textBuf != "" {
			parts = append(parts, model.TextPart{Text: textBuf})
			textBuf = ""
		}
	}
	flushThinking := func() {
		if thinkBuf != "" {
			parts = append(parts, model.ThinkingPart{Text: thinkBuf, Signature: thinkSig})
			thinkBuf, thinkSig = "", ""
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, nil, "", model.Usage{}, ctx.Err()
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			// The watcher goroutine above closes the stream as soon as ctx
			// is cancelled, which makes Recv() return promptly — but its
			// error may read as a plain io.EOF or a transport error
			// depending on the provider, not necessarily context.Canceled
			// itself. Prefer ctx.Err() whenever it is set so a cancelled
			// run is never mistaken for a clean completion.
			if ctx.Err() != nil {
				return nil, nil, "", model.Usage{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, "", model.Usage{}, err
		}

		switch chunk.Kind {
		case model.ChunkKindText:
			flushThinking()
			textBuf += chunk.Text
			emit(bus.Event{Kind: bus.EventKindChunk, Content: chunk.Text})
		case model.ChunkKindThinking:
			flushText()
			if chunk.Text != "" {
				thinkBuf += chunk.Text
				emit(bus.Event{Kind: bus.EventKindThinking, Content: chunk.Text})
			}
			if chunk.ThinkingSignature != "" {
				thinkSig = chunk.ThinkingSignature
			}
		case model.ChunkKindToolUseStart:
			flushText()
			flushThinking()
			pending[chunk.ToolUseID] = &pendingToolUse{id: chunk.ToolUseID, name: chunk.ToolUseName}
			order = append(order, chunk.ToolUseID)
		case model.ChunkKindToolUseDelta:
			if p, ok := pending[chunk.ToolUseID]; ok {
				p.raw = append(p.raw, []byte(chunk.ToolUseInputDelta)...)
			}
		case model.ChunkKindToolUseEnd:
			// input is complete; parsed once the stream ends below.
		case model.ChunkKindMessageStop:
			stop = chunk.StopReason
			usage = chunk.Usage
		}
	}
	flushText()
	flushThinking()

	calls := make([]executor.Call, 0, len(order))
	for _, id := range order {
		p := pending[id]
		var input map[string]any
		if len(p.raw) > 0 {
			_ = json.Unmarshal(p.raw, &input)
		}
		if input == nil {
			input = map[string]any{}
		}
		parts = append(parts, model.ToolUsePart{ID: p.id, Name: p.name, Input: input})
		calls = append(calls, executor.Call{ID: p.id, Name: p.name, Input: input})
	}

	return parts, calls, stop, usage, nil
}
