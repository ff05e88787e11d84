package tools_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simage-ai/convoengine/internal/tools"
)

func TestRenderDisplaySubstitutesPlaceholders(t *testing.T) {
	got := tools.RenderDisplay("Running {tool} for \"{query}\"", "search_documents", "refund policy")
	assert.Equal(t, `Running search_documents for "refund policy"`, got)
}

func TestRenderDisplayStripsUnfilledPlaceholders(t *testing.T) {
	got := tools.RenderDisplay("Calling {tool} with {unknown_field}", "read_resource", "")
	assert.Equal(t, "Calling read_resource with ", got)
}

func TestRenderDisplayNoPlaceholders(t *testing.T) {
	got := tools.RenderDisplay("Thinking...", "any_tool", "any_query")
	assert.Equal(t, "Thinking...", got)
}
