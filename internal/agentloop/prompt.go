package agentloop

import (
	"fmt"
	"strings"

	"github.com/simage-ai/convoengine/internal/tools"
)

// basePrompt mirrors BASE_SYSTEM_PROMPT in the original's agent.py: the
// assistant's persona and tool-use policy.
const basePrompt = `You are a research assistant embedded in a workspace of documents, web pages, data files, images, and cloned repositories belonging to the current user.

Use the available tools to ground your answers in the workspace's own resources before relying on general knowledge. Cite sources when you use search_documents or search_web. Prefer save_finding for short, reusable excerpts worth recalling later. Never fabricate tool results.`

// BuildSystemPrompt composes the system prompt in the same order the
// original does: base persona/policy, then resource awareness (so the
// model knows what exists without a tool round trip), then caller
// instructions (project instructions plus any subthread context), which
// come last because they are meant to refine or override earlier guidance.
func BuildSystemPrompt(resources []tools.ResourceView, callerInstructions string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if aware := resourceAwareness(resources); aware != "" {
		b.WriteString("\n\n")
		b.WriteString(aware)
	}
	if callerInstructions != "" {
		b.WriteString("\n\n")
		b.WriteString(callerInstructions)
	}
	return b.String()
}

func resourceAwareness(resources []tools.ResourceView) string {
	if len(resources) == 0 {
		return ""
	}
	byType := map[string][]tools.ResourceView{}
	order := []string{}
	for _, r := range resources {
		if _, ok := byType[r.Type]; !ok {
			order = append(order, r.Type)
		}
		byType[r.Type] = append(byType[r.Type], r)
	}
	var b strings.Builder
	b.WriteString("Available workspace resources:\n")
	for _, t := range order {
		fmt.Fprintf(&b, "%s:\n", t)
		for _, r := range byType[t] {
			fmt.Fprintf(&b, "  - %s (%s)\n", r.Name, r.Status)
		}
	}
	return b.String()
}

// maxAncestorDepth bounds the subthread ancestry walk (SPEC_FULL §4.3.2).
const maxAncestorDepth = 3

// maxAncestorContextChars truncates each intermediate ancestry level's
// context text; the immediate thread's own context text is kept verbatim.
const maxAncestorContextChars = 100

// maxParentTurnChars truncates each of the last parent turns included.
const maxParentTurnChars = 300

// maxParentTurns is how many of the immediate parent's most recent turns
// are included, bounding token cost (not the whole ancestry).
const maxParentTurns = 4

// Ancestor is one level of a thread's parent chain, oldest-first input
// order is not assumed; BuildSubthreadContext walks up to maxAncestorDepth
// levels starting from the immediate parent.
type Ancestor struct {
	Title       string
	ContextText string
}

// ParentTurn is one turn from the immediate parent thread, used only for
// the last maxParentTurns of context.
type ParentTurn struct {
	Role    string
	Content string
}

// BuildSubthreadContext renders the "[SUBTHREAD CONTEXT]" block for a
// thread with a non-null parent, grounded on
// original_source/api/routers/query.py's _build_parent_context(). Callers
// build this once per Agent Loop invocation, never per iteration (design
// note in SPEC_FULL §9).
func BuildSubthreadContext(ownContextText string, ancestors []Ancestor, parentTurns []ParentTurn) string {
	if ownContextText == "" && len(ancestors) == 0 {
		return ""
	}
	if len(ancestors) > maxAncestorDepth {
		ancestors = ancestors[:maxAncestorDepth]
	}

	var b strings.Builder
	b.WriteString("[SUBTHREAD CONTEXT]\n")
	fmt.Fprintf(&b, "This thread is nested %d level(s) deep.\n", len(ancestors)+1)

	if len(ancestors) > 0 {
		b.WriteString("Ancestry (oldest to newest):\n")
		for i := len(ancestors) - 1; i >= 0; i-- {
			a := ancestors[i]
			fmt.Fprintf(&b, "  - %s: spawned by %q\n", a.Title, truncate(a.ContextText, maxAncestorContextChars))
		}
	}

	if ownContextText != "" {
		fmt.Fprintf(&b, "\nThis thread was spawned by: %s\n", ownContextText)
	}

	if len(parentTurns) > 0 {
		start := 0
		if len(parentTurns) > maxParentTurns {
			start = len(parentTurns) - maxParentTurns
		}
		b.WriteString("\nRecent turns in the immediate parent thread:\n")
		for _, t := range parentTurns[start:] {
			fmt.Fprintf(&b, "  %s: %s\n", t.Role, truncate(t.Content, maxParentTurnChars))
		}
	}

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
