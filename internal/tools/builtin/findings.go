package builtin

import (
	"fmt"

	"github.com/simage-ai/convoengine/internal/tools"
)

// SaveFindingSchema is the JSON Schema for save_finding.
const SaveFindingSchema = `{
  "type": "object",
  "properties": {
    "content": {"type": "string", "description": "The finding text to save."},
    "note": {"type": "string", "description": "Optional short note about why this finding matters."}
  },
  "required": ["content"]
}`

// NewSaveFinding constructs the save_finding tool spec.
func NewSaveFinding() *tools.Spec {
	return &tools.Spec{
		Name:            "save_finding",
		Description:     "Save a short excerpt as a finding for this thread, so it can be recalled later.",
		InputSchema:     []byte(SaveFindingSchema),
		Requires:        []tools.Capability{tools.CapabilityDatabase},
		DisplayTemplate: "Saving finding",
		Execute:         execSaveFinding,
	}
}

func execSaveFinding(ctx *tools.Context, input map[string]any) (tools.Result, error) {
	content, _ := input["content"].(string)
	note, _ := input["note"].(string)
	if content == "" {
		return tools.Result{Content: "content is required to save a finding.", Success: false}, nil
	}

	id, err := ctx.SaveFinding(ctx.Context, content, note)
	if err != nil {
		return tools.Result{}, fmt.Errorf("save_finding: %w", err)
	}

	return tools.Result{
		Content: fmt.Sprintf("Saved finding %s.", id),
		Success: true,
		Metadata: map[string]any{
			"saved":            true,
			"finding_id":       id,
			"finding_content":  content,
		},
	}, nil
}
