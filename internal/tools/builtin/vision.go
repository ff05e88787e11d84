package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/simage-ai/convoengine/internal/tools"
)

// ViewImageSchema is the JSON Schema for view_image.
const ViewImageSchema = `{
  "type": "object",
  "properties": {
    "resource_name": {"type": "string", "description": "Name of the image resource to inspect."},
    "question": {"type": "string", "description": "What to look for or ask about the image."}
  },
  "required": ["resource_name", "question"]
}`

// NewViewImage constructs the view_image tool spec.
func NewViewImage() *tools.Spec {
	return &tools.Spec{
		Name:            "view_image",
		Description:     "Ask a question about the contents of an image resource using a vision-capable model call.",
		InputSchema:     []byte(ViewImageSchema),
		Requires:        []tools.Capability{tools.CapabilityVision},
		DisplayTemplate: "Viewing {query}",
		Execute:         execViewImage,
	}
}

func execViewImage(ctx *tools.Context, input map[string]any) (tools.Result, error) {
	name, _ := input["resource_name"].(string)
	question, _ := input["question"].(string)

	r, ok := findResourceByName(ctx, name)
	if !ok || r.Type != "image" {
		return tools.Result{Content: fmt.Sprintf("No image resource named %q was found.", name), Success: false}, nil
	}

	data, err := os.ReadFile(r.FilePath)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("Image %q is indexed but its file is no longer present on disk.", r.Name), Success: false}, nil
	}

	mediaType := mediaTypeForExt(filepath.Ext(r.FilePath))
	reply, err := ctx.Vision.DescribeImage(ctx.Context, mediaType, data, fmt.Sprintf("Filename: %s\n\nQuestion: %s", r.Name, question))
	if err != nil {
		return tools.Result{}, fmt.Errorf("view_image: %w", err)
	}
	return tools.Result{Content: reply, Success: true}, nil
}

func mediaTypeForExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
