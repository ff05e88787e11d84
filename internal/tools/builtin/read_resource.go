package builtin

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/tools"
)

// defaultPreviewLines is used when the caller omits preview_lines.
const defaultPreviewLines = 50

// ReadResourceSchema is the JSON Schema for read_resource.
const ReadResourceSchema = `{
  "type": "object",
  "properties": {
    "resource_name": {"type": "string", "description": "Name of the resource to read."},
    "preview_lines": {"type": "integer", "description": "Maximum lines/rows to return (default 50, data files capped at 200)."}
  },
  "required": ["resource_name"]
}`

// NewReadResource constructs the read_resource tool spec.
func NewReadResource() *tools.Spec {
	return &tools.Spec{
		Name:            "read_resource",
		Description:     "Read the first portion of a resource's content: a text preview, or a schema+sample for data files.",
		InputSchema:     []byte(ReadResourceSchema),
		Requires:        []tools.Capability{tools.CapabilityResources},
		DisplayTemplate: "Reading {query}",
		Execute:         execReadResource,
	}
}

func execReadResource(ctx *tools.Context, input map[string]any) (tools.Result, error) {
	name, _ := input["resource_name"].(string)
	r, ok := findResourceByName(ctx, name)
	if !ok {
		return tools.Result{Content: fmt.Sprintf("No resource named %q was found.", name), Success: false}, nil
	}

	previewLines := defaultPreviewLines
	if v, ok := input["preview_lines"].(float64); ok && v > 0 {
		previewLines = int(v)
	}

	switch r.Type {
	case "image":
		return tools.Result{
			Content: fmt.Sprintf("%q is an image. Use the view_image tool with a question to inspect its contents.", r.Name),
			Success: true,
		}, nil
	case "data_file":
		if previewLines > 200 {
			previewLines = 200
		}
		return readDataFilePreview(r, previewLines)
	default:
		return readTextPreview(r, previewLines)
	}
}

func readDataFilePreview(r tools.ResourceView, rows int) (tools.Result, error) {
	if _, err := os.Stat(r.FilePath); err != nil {
		return tools.Result{Content: fmt.Sprintf("Resource %q is indexed but its backing file is no longer available on disk.", r.Name), Success: false}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Schema for %s (%d rows total):\n", r.Name, r.RowCount)
	for _, c := range r.Columns {
		fmt.Fprintf(&b, "  %s: %s\n", c.Name, c.Type)
	}
	fmt.Fprintf(&b, "\nShowing up to %d rows. Use analyze_data for aggregation or filtering.\n", rows)
	if tbl, err := (CSVTableLoader{}).Load(r.FilePath); err == nil {
		if ct, ok := tbl.(*csvTable); ok {
			b.WriteString(ct.render(rows))
		}
	}
	bounds := model.NewBounds(r.RowCount, min(rows, r.RowCount))
	meta := map[string]any{"truncated": bounds.Truncated, "total_rows": bounds.Total}
	return tools.Result{Content: b.String(), Success: true, Metadata: meta}, nil
}

func readTextPreview(r tools.ResourceView, lines int) (tools.Result, error) {
	f, err := os.Open(r.FilePath)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("Resource %q is indexed but its backing file is no longer available on disk.", r.Name), Success: false}, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var b strings.Builder
	n := 0
	truncated := false
	for scanner.Scan() {
		if n >= lines {
			truncated = true
			break
		}
		line := scanner.Text()
		if !utf8.ValidString(line) {
			line = strings.ToValidUTF8(line, "�")
		}
		b.WriteString(line)
		b.WriteByte('\n')
		n++
	}
	meta := map[string]any{"truncated": truncated, "lines_returned": n}
	return tools.Result{Content: b.String(), Success: true, Metadata: meta}, nil
}
