// Package builtin implements the engine's eight built-in tools, each
// grounded on its Python counterpart under original_source/rag/tools/.
package builtin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/simage-ai/convoengine/internal/tools"
)

// statusIcon mirrors the four-icon status-class table baked into
// list_resources in the original (resources.py): ready, processing,
// partial/unsearchable, failed. The mapping is intentionally local to this
// tool rather than looked up elsewhere.
func statusIcon(status string) string {
	switch status {
	case "indexed", "analyzed", "described", "stored", "extracted":
		return "✓"
	case "uploaded", "extracting", "indexing", "analyzing", "describing":
		return "⏳"
	case "partial":
		return "⚠"
	case "failed":
		return "✗"
	default:
		return "⚠"
	}
}

// ListResourcesSchema is the JSON Schema handed to the model for
// list_resources. All fields are optional filters.
const ListResourcesSchema = `{
  "type": "object",
  "properties": {
    "type": {"type": "string", "description": "Filter by resource type: document, website, data_file, image, git_repository."},
    "name_contains": {"type": "string", "description": "Case-insensitive substring filter on resource name."}
  }
}`

// NewListResources constructs the list_resources tool spec.
func NewListResources() *tools.Spec {
	return &tools.Spec{
		Name:            "list_resources",
		Description:     "List the resources available in this project's workspace, optionally filtered by type or name.",
		InputSchema:     []byte(ListResourcesSchema),
		Requires:        []tools.Capability{tools.CapabilityResources},
		DisplayTemplate: "Listing resources",
		Execute:         execListResources,
	}
}

func execListResources(ctx *tools.Context, input map[string]any) (tools.Result, error) {
	typeFilter, _ := input["type"].(string)
	nameFilter, _ := input["name_contains"].(string)
	nameFilter = strings.ToLower(nameFilter)

	all := ctx.Resources()
	byType := map[string][]tools.ResourceView{}
	for _, r := range all {
		if typeFilter != "" && r.Type != typeFilter {
			continue
		}
		if nameFilter != "" && !strings.Contains(strings.ToLower(r.Name), nameFilter) {
			continue
		}
		byType[r.Type] = append(byType[r.Type], r)
	}

	if len(byType) == 0 {
		return tools.Result{Content: "No resources match the given filters.", Success: true}, nil
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	for _, t := range types {
		fmt.Fprintf(&b, "%s:\n", t)
		rs := byType[t]
		sort.Slice(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })
		for _, r := range rs {
			fmt.Fprintf(&b, "  %s %s (%s)\n", statusIcon(r.Status), r.Name, r.Status)
		}
	}
	return tools.Result{Content: b.String(), Success: true, Metadata: map[string]any{"count": len(all)}}, nil
}

// GetResourceInfoSchema is the JSON Schema for get_resource_info.
const GetResourceInfoSchema = `{
  "type": "object",
  "properties": {
    "resource_name": {"type": "string", "description": "Name of the resource to describe."}
  },
  "required": ["resource_name"]
}`

// NewGetResourceInfo constructs the get_resource_info tool spec.
func NewGetResourceInfo() *tools.Spec {
	return &tools.Spec{
		Name:            "get_resource_info",
		Description:     "Get detailed metadata about a single named resource: status, summary, and type-specific fields.",
		InputSchema:     []byte(GetResourceInfoSchema),
		Requires:        []tools.Capability{tools.CapabilityResources},
		DisplayTemplate: "Inspecting {query}",
		Execute:         execGetResourceInfo,
	}
}

func execGetResourceInfo(ctx *tools.Context, input map[string]any) (tools.Result, error) {
	name, _ := input["resource_name"].(string)
	r, ok := findResourceByName(ctx, name)
	if !ok {
		return tools.Result{Content: fmt.Sprintf("No resource named %q was found.", name), Success: false}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", r.Name)
	fmt.Fprintf(&b, "Type: %s\n", r.Type)
	fmt.Fprintf(&b, "Status: %s %s\n", statusIcon(r.Status), r.Status)
	if r.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", r.Summary)
	}
	switch r.Type {
	case "data_file":
		fmt.Fprintf(&b, "Rows: %d, Columns: %d\n", r.RowCount, len(r.Columns))
		for _, c := range r.Columns {
			fmt.Fprintf(&b, "  - %s: %s\n", c.Name, c.Type)
		}
	case "image":
		fmt.Fprintf(&b, "Dimensions: %dx%d\n", r.Width, r.Height)
	}
	return tools.Result{Content: b.String(), Success: true, Metadata: map[string]any{"resource_id": r.ID}}, nil
}

// findResourceByName performs a case-insensitive exact-name match against
// the live resource projection, mirroring _find_resource_by_name in
// resources.py: this always re-reads ctx.Resources(), never a value
// captured at conversation start, so a resource finished indexing mid-turn
// is visible to the very next tool call.
func findResourceByName(ctx *tools.Context, name string) (tools.ResourceView, bool) {
	lname := strings.ToLower(strings.TrimSpace(name))
	for _, r := range ctx.Resources() {
		if strings.ToLower(r.Name) == lname {
			return r, true
		}
	}
	return tools.ResourceView{}, false
}
