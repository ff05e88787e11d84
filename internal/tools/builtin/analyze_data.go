package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/simage-ai/convoengine/internal/apperror"
	"github.com/simage-ai/convoengine/internal/tools"
)

// deniedTokens is the exact denylist carried over from data_analysis.py.
// Any occurrence in a generated snippet rejects it outright with
// unsafe_operation, regardless of context (no AST parsing — a plain
// substring scan, matching the original).
var deniedTokens = []string{
	"import ", "__", "exec(", "eval(", "open(", "os.", "subprocess",
	"system(", "popen", ".write(", "delete", ".drop(", "to_csv", "to_excel",
	"to_json", "to_parquet", "shutil", "pathlib", "glob", "input(",
	"compile(", "globals(", "locals(", "getattr(", "setattr(",
	"read_csv", "read_excel", "read_json", "read_parquet",
}

// maxResultRows caps any tabular result returned to the model.
const maxResultRows = 50

// DataSnippetGenerator asks the model to produce a short data-manipulation
// snippet against a described dataset. It is a narrow seam so the tool
// itself has no direct dependency on internal/model's request shape.
type DataSnippetGenerator interface {
	GenerateSnippet(ctx context.Context, schema string, query string) (string, error)
}

// TableLoader loads a tabular resource file into a queryable in-memory
// form. The implementation in this package, CSVTableLoader, reads CSV and
// TSV only (TSV for a .tsv extension, CSV for every other path); xlsx, xls,
// json and parquet files are not decoded.
type TableLoader interface {
	Load(path string) (Table, error)
}

// Table is the minimal tabular value a generated snippet is evaluated
// against: column names/types and row data as maps.
type Table interface {
	Columns() []tools.ColumnInfo
	Rows() []map[string]any
	// Eval runs snippet (already denylist-checked) against this table using
	// a restricted scope exposing only the table value and a safelist of
	// aggregate/statistics functions, returning a rendered text result.
	Eval(snippet string) (string, error)
}

// AnalyzeDataSchema is the JSON Schema for analyze_data.
const AnalyzeDataSchema = `{
  "type": "object",
  "properties": {
    "resource_name": {"type": "string", "description": "Name of the data_file resource to analyze."},
    "query": {"type": "string", "description": "Natural-language description of the analysis to perform."}
  },
  "required": ["resource_name", "query"]
}`

// NewAnalyzeData constructs the analyze_data tool spec.
func NewAnalyzeData(gen DataSnippetGenerator, loader TableLoader) *tools.Spec {
	return &tools.Spec{
		Name:            "analyze_data",
		Description:     "Run a sandboxed tabular analysis against a data file resource and return the result.",
		InputSchema:     []byte(AnalyzeDataSchema),
		Requires:        []tools.Capability{tools.CapabilityDataFiles},
		DisplayTemplate: "Analyzing {query}",
		Execute: func(ctx *tools.Context, input map[string]any) (tools.Result, error) {
			name, _ := input["resource_name"].(string)
			query, _ := input["query"].(string)
			return execAnalyzeData(ctx, gen, loader, name, query)
		},
	}
}

func execAnalyzeData(ctx *tools.Context, gen DataSnippetGenerator, loader TableLoader, name, query string) (tools.Result, error) {
	// Always re-resolve against the live projection: "fresh, not a stale
	// snapshot from conversation start" per the original's own comment.
	r, ok := findResourceByName(ctx, name)
	if !ok || r.Type != "data_file" {
		return tools.Result{Content: fmt.Sprintf("No data file resource named %q was found.", name), Success: false}, nil
	}
	if _, err := os.Stat(r.FilePath); err != nil {
		return tools.Result{Content: fmt.Sprintf("Resource %q is indexed but its file (%s) is no longer present on disk.", r.Name, filepath.Base(r.FilePath)), Success: false}, nil
	}

	table, err := loader.Load(r.FilePath)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("Could not load %q: %v", r.Name, err), Success: false}, nil
	}

	schema := describeSchema(table.Columns())
	snippet, err := gen.GenerateSnippet(ctx.Context, schema, query)
	if err != nil {
		return tools.Result{}, fmt.Errorf("analyze_data: generate snippet: %w", err)
	}

	if tok, hit := findDeniedToken(snippet); hit {
		return tools.Result{
			Content: fmt.Sprintf("Generated analysis used a disallowed operation (%q) and was rejected.", tok),
			Success: false,
			Metadata: map[string]any{
				"error": apperror.New(apperror.KindToolFailure, "unsafe_operation").Error(),
			},
		}, nil
	}

	result, err := table.Eval(snippet)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("Analysis failed: %v", err), Success: false}, nil
	}
	return tools.Result{Content: truncateRows(result, maxResultRows), Success: true}, nil
}

func describeSchema(cols []tools.ColumnInfo) string {
	var b strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&b, "%s: %s\n", c.Name, c.Type)
	}
	return b.String()
}

func findDeniedToken(snippet string) (string, bool) {
	lower := strings.ToLower(snippet)
	for _, tok := range deniedTokens {
		if strings.Contains(lower, tok) {
			return tok, true
		}
	}
	return "", false
}

// truncateRows caps a newline-delimited tabular rendering at maxRows lines,
// appending a note when truncated.
func truncateRows(rendered string, maxRows int) string {
	lines := strings.Split(rendered, "\n")
	if len(lines) <= maxRows {
		return rendered
	}
	return strings.Join(lines[:maxRows], "\n") + fmt.Sprintf("\n... (truncated to %d rows)", maxRows)
}
