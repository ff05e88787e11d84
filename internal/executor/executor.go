// Package executor dispatches a single tool-use request: validate input,
// invoke the tool, and emit tool_call/tool_result events around it. It
// never lets a tool panic or an unknown tool name abort the Agent Loop —
// both degrade to a tool_result, per SPEC_FULL §4.2.
package executor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/simage-ai/convoengine/internal/apperror"
	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/tools"
)

// Executor dispatches tool-use requests against a Registry.
type Executor struct {
	registry *tools.Registry
}

// New constructs an Executor over registry.
func New(registry *tools.Registry) *Executor {
	return &Executor{registry: registry}
}

// Call is one tool invocation request, as collected from a model's
// ToolUsePart.
type Call struct {
	ID    string
	Name  string
	Input map[string]any
}

// Outcome is the result of dispatching one Call: the string content to
// feed back to the model as a tool_result part, and the sources metadata
// (if any) to fold into the loop's consolidated sources event.
type Outcome struct {
	Content   string
	IsError   bool
	Sources   []bus.Source
	Duration  float64 // seconds, for tool-call activity serialization (§4.4.1)
}

// Dispatch executes one tool call, emitting tool_call then tool_result
// through emit. A tool panic is recovered and converted to a failed
// tool_result rather than propagating, matching "never aborts the loop."
func (ex *Executor) Dispatch(tc *tools.Context, emit func(bus.Event), call Call) (out Outcome) {
	start := time.Now()
	defer func() { out.Duration = time.Since(start).Seconds() }()

	spec := ex.registry.Lookup(tools.Ident(call.Name))
	query := summarizeQuery(call.Input)

	emit(bus.Event{Kind: bus.EventKindToolCall, ToolUseID: call.ID, Tool: call.Name, Query: query})

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Content: fmt.Sprintf("tool %q panicked: %v", call.Name, r), IsError: true}
			emit(bus.Event{Kind: bus.EventKindToolResult, ToolUseID: call.ID, Tool: call.Name, Found: 0, Success: false})
		}
	}()

	if spec == nil {
		out = Outcome{
			Content: apperror.Newf(apperror.KindToolFailure, "unknown tool %q", call.Name).Error(),
			IsError: true,
		}
		emit(bus.Event{Kind: bus.EventKindToolResult, ToolUseID: call.ID, Tool: call.Name, Found: 0, Success: false})
		return out
	}

	if err := spec.Validate(call.Input); err != nil {
		out = Outcome{Content: apperror.Wrap(apperror.KindValidation, "invalid tool input", err).Error(), IsError: true}
		emit(bus.Event{Kind: bus.EventKindToolResult, ToolUseID: call.ID, Tool: call.Name, Found: 0, Success: false})
		return out
	}

	result, err := spec.Execute(tc, call.Input)
	if err != nil {
		out = Outcome{Content: apperror.Wrap(apperror.KindToolFailure, "tool execution failed", err).Error(), IsError: true}
		emit(bus.Event{Kind: bus.EventKindToolResult, ToolUseID: call.ID, Tool: call.Name, Found: 0, Success: false})
		return out
	}

	found, sources := extractFoundAndSources(result.Metadata)
	echoMeta := stripBulkyFields(result.Metadata)
	emit(bus.Event{
		Kind:      bus.EventKindToolResult,
		ToolUseID: call.ID,
		Tool:      call.Name,
		Query:     query,
		Found:     found,
		Success:   result.Success,
		ToolMeta:  echoMeta,
	})

	return Outcome{Content: result.Content, IsError: !result.Success, Sources: sources}
}

// stripBulkyFields removes the "sources" field from metadata before it is
// echoed in a tool_result event — sources are carried in their own
// consolidated event instead (SPEC_FULL §4.2: "echoing the tool name and
// the metadata minus bulky fields such as sources").
func stripBulkyFields(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == "sources" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func extractFoundAndSources(meta map[string]any) (int, []bus.Source) {
	if meta == nil {
		return 0, nil
	}
	found := 0
	if f, ok := meta["found"].(int); ok {
		found = f
	}
	var sources []bus.Source
	if raw, ok := meta["sources"]; ok {
		b, err := json.Marshal(raw)
		if err == nil {
			_ = json.Unmarshal(b, &sources)
		}
		if found == 0 {
			found = len(sources)
		}
	}
	return found, sources
}

// summarizeQuery derives a short human-readable query string for the
// tool_call event from the invocation's primary argument, trying the
// common field names in order.
func summarizeQuery(input map[string]any) string {
	for _, key := range []string{"query", "resource_name", "content"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
