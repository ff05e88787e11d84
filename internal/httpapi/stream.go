package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/simage-ai/convoengine/internal/apperror"
	"github.com/simage-ai/convoengine/internal/bus"
)

// streamQueryRequest is the body of POST .../query/stream.
type streamQueryRequest struct {
	Question    string `json:"question" binding:"required"`
	ContextOnly bool   `json:"context_only"`
}

// sseFrame is the wire shape of one SSE event, matching SPEC_FULL §6's
// frame shapes exactly (a "type" discriminator plus kind-specific fields).
type sseFrame struct {
	Type string `json:"type"`

	Status string `json:"status,omitempty"`

	Category       string `json:"category,omitempty"`
	Acknowledgment string `json:"acknowledgment,omitempty"`
	Complexity     string `json:"complexity,omitempty"`
	SearchStrategy string `json:"search_strategy,omitempty"`

	Tool            string `json:"tool,omitempty"`
	Query           string `json:"query,omitempty"`
	Found           int    `json:"found,omitempty"`
	Saved           bool   `json:"saved,omitempty"`
	FindingID       string `json:"finding_id,omitempty"`
	FindingContent  string `json:"finding_content,omitempty"`

	Sources []bus.Source `json:"sources,omitempty"`

	Content string `json:"content,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`

	Message string `json:"message,omitempty"`
}

func toSSEFrame(e bus.Event) sseFrame {
	f := sseFrame{
		Type: string(e.Kind), Status: e.Status, Category: e.Category, Acknowledgment: e.Acknowledgment,
		Complexity: e.Complexity, SearchStrategy: e.SearchStrategy, Tool: e.Tool, Query: e.Query,
		Found: e.Found, Sources: e.Sources, Content: e.Content, InputTokens: e.InputTokens,
		OutputTokens: e.OutputTokens, Message: e.Message,
	}
	if e.InputTokens > 0 || e.OutputTokens > 0 {
		f.TotalTokens = e.InputTokens + e.OutputTokens
	}
	if e.Kind == bus.EventKindToolResult && e.ToolMeta != nil {
		if v, ok := e.ToolMeta["saved"].(bool); ok {
			f.Saved = v
		}
		if v, ok := e.ToolMeta["finding_id"].(string); ok {
			f.FindingID = v
		}
		if v, ok := e.ToolMeta["finding_content"].(string); ok {
			f.FindingContent = v
		}
	}
	return f
}

// streamQuery implements the inline path (SPEC_FULL §4.5/§4.5.1): a single
// connected client drives the Agent Loop directly, every emitted event is
// forwarded as a gin SSE frame and mirrored to the Event Bus, and the
// `done` frame is preceded by a `sources` frame if none was already sent.
func (h *handler) streamQuery(c *gin.Context) {
	var req streamQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.Wrap(apperror.KindValidation, "malformed body", err))
		return
	}
	project, thread := c.Param("project"), c.Param("thread")
	ctx := c.Request.Context()

	if !req.ContextOnly {
		if _, err := h.d.Store.CreateUserTurn(ctx, thread, req.Question); err != nil {
			writeError(c, err)
			return
		}
	}
	job, err := h.d.Store.CreateJob(ctx, project, thread, req.Question, req.ContextOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	if ok, err := h.d.Store.StartJob(ctx, job.ID); err != nil || !ok {
		writeError(c, fmt.Errorf("httpapi: could not start job: %w", err))
		return
	}

	in, err := h.d.Builder.Build(ctx, job)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apperror.New(apperror.KindInternal, "response writer does not support streaming"))
		return
	}

	sourcesSent := false
	writeFrame := func(e bus.Event) {
		if e.Kind == bus.EventKindSources {
			sourcesSent = true
		}
		if e.Kind == bus.EventKindDone && !sourcesSent {
			b, _ := json.Marshal(toSSEFrame(bus.Event{Kind: bus.EventKindSources}))
			fmt.Fprintf(c.Writer, "data: %s\n\n", b)
			sourcesSent = true
		}
		b, _ := json.Marshal(toSSEFrame(e))
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	// The Agent Loop runs on its own background context, detached from the
	// request: a client disconnect must not abort the run or mark the job
	// failed, since the documented hand-off (§4.5) lets the client flush
	// progress and re-start the same job on the worker once it reconnects,
	// which only works if this goroutine either finishes the job cleanly or
	// leaves it running for the worker to find.
	runCtx := context.Background()
	events := make(chan bus.Event, 64)
	emit := func(e bus.Event) {
		if perr := h.d.Bus.Publish(runCtx, project, job.ID, e); perr != nil {
			h.d.Log.Error().Err(perr).Str("job_id", job.ID).Msg("httpapi: bus publish failed")
		}
		events <- e
	}

	go func() {
		defer close(events)

		result, runErr := h.d.Loop.Run(runCtx, in, emit)
		if runErr != nil {
			_, _ = h.d.Store.FailJob(runCtx, job.ID, runErr.Error())
			if j, err := h.d.Store.GetJob(runCtx, job.ID); err == nil && h.d.Notifier != nil {
				_ = h.d.Notifier.JobFailed(runCtx, j)
			}
			return
		}

		sourcesJSON, _ := json.Marshal(result.Sources)
		toolCallsJSON, _ := json.Marshal(result.ToolCalls)
		_, _, _ = h.d.Store.CompleteJob(runCtx, job.ID, result.FinalText, sourcesJSON, toolCallsJSON, result.InputTokens, result.OutputTokens)
		if j, err := h.d.Store.GetJob(runCtx, job.ID); err == nil && h.d.Notifier != nil {
			_ = h.d.Notifier.JobCompleted(runCtx, j)
		}
	}()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			writeFrame(e)
		case <-c.Request.Context().Done():
			// Client gone: stop writing to a dead connection, but let the
			// job keep running to completion in the background; drain the
			// channel so emit's send above never blocks forever.
			go func() {
				for range events {
				}
			}()
			return
		}
	}
}
