// Package tools defines the tool catalogue contract: a stable name, a
// natural-language description, a JSON input schema, required capabilities,
// and an execute function. Tools are registered once at process startup
// into a Registry and looked up by name during dispatch; the registry is
// never mutated during a request.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Ident is the strong type for tool names, keeping them distinct from
// free-form strings in maps and function signatures.
type Ident string

// Capability names a resource or client a tool requires to be available.
// The registry filters the catalogue per invocation against the set of
// capabilities ctx.Has reports as present.
type Capability string

const (
	CapabilityDatabase   Capability = "database"
	CapabilityRetriever  Capability = "retriever"
	CapabilityVision     Capability = "vision"
	CapabilityWebSearch  Capability = "web_search"
	CapabilityDataFiles  Capability = "data_files"
	CapabilityResources  Capability = "resources"
)

// Result is what a tool execution returns to the Executor: content fed back
// to the model, a success flag, and metadata consumed by the event layer
// (and trimmed of bulky fields, e.g. "sources", before being echoed in a
// tool_result event — see internal/executor).
type Result struct {
	Content  string
	Success  bool
	Metadata map[string]any
}

// Context carries everything a tool execution needs: the calling project
// and thread, a database handle, the live resource projection, and the
// capability-specific clients (retriever, vision, web search). Exactly one
// Context is built per Agent Loop invocation and reused for every tool call
// within it, so read_resource/analyze_data observe a live, not stale,
// resource projection.
type Context struct {
	context.Context

	ProjectID string
	ThreadID  string

	DB *pgxpool.Pool

	Retriever Retriever
	Vision    VisionCaller
	WebSearch WebSearcher

	Resources func() []ResourceView

	SaveFinding func(ctx context.Context, content, note string) (string, error)

	TavilyAPIKey string
}

// Has reports whether the capability's backing collaborator is configured
// for this invocation (e.g. a project with no web-search key configured has
// no CapabilityWebSearch).
func (c *Context) Has(cap Capability) bool {
	switch cap {
	case CapabilityDatabase:
		return c.DB != nil
	case CapabilityRetriever:
		return c.Retriever != nil
	case CapabilityVision:
		return c.Vision != nil
	case CapabilityWebSearch:
		return c.WebSearch != nil && c.TavilyAPIKey != ""
	case CapabilityDataFiles, CapabilityResources:
		return c.Resources != nil
	default:
		return false
	}
}

// ResourceView is the flat projection of a Resource the tools consume (see
// SPEC_FULL §3: "the core consumes only the flat projection").
type ResourceView struct {
	ID       string
	Name     string
	Type     string // document | website | data_file | image | git_repository
	Status   string
	Summary  string
	FilePath string

	RowCount int
	Columns  []ColumnInfo
	Width    int
	Height   int

	GitHubBaseURL string
}

// ColumnInfo describes one column of a tabular data_file resource.
type ColumnInfo struct {
	Name string
	Type string
}

// SearchHit is one result returned by a Retriever query.
type SearchHit struct {
	Content      string
	Source       string
	ResourceID   string
	ResourceType string
	FilePath     string
	LineStart    int
	LineEnd      int
	Score        float64
}

// Retriever is the narrow interface the document search tool depends on;
// the vector store and embedding pipeline live entirely outside this
// module's scope.
type Retriever interface {
	Search(ctx context.Context, projectID string, namespaces []string, query string, topK int) ([]SearchHit, error)
}

// VisionCaller issues a single non-streaming vision-capable model call.
type VisionCaller interface {
	DescribeImage(ctx context.Context, mediaType string, data []byte, question string) (string, error)
}

// WebSearcher is the narrow interface the search_web tool depends on.
type WebSearcher interface {
	Search(ctx context.Context, apiKey, query string, maxResults int) ([]WebHit, error)
}

// WebHit is one result returned by a WebSearcher query.
type WebHit struct {
	Title   string
	URL     string
	Content string
}

// Spec enumerates the metadata for one registered tool: what schema is
// handed to the model, what capabilities gate its availability, and the
// function that executes it.
type Spec struct {
	Name        Ident
	Description string
	// InputSchema is the raw JSON Schema document validated against the
	// model's tool-call payload before Execute is invoked.
	InputSchema json.RawMessage
	Requires    []Capability
	// DisplayTemplate is a short human-readable action label template for
	// this tool, rendered by RenderDisplay (internal/tools/display.go) with
	// {query} substituted from the invocation's primary argument and any
	// unfilled placeholder stripped. The executor and the bus do not render
	// it: tool_call events carry the raw primary argument as Query, and the
	// bus snapshot's current_action is built from the tool name.
	DisplayTemplate string

	Execute func(ctx *Context, input map[string]any) (Result, error)

	compiled *jsonschema.Schema
}

// Registry is the process-wide tool catalogue, built once at startup.
type Registry struct {
	mu    sync.RWMutex
	specs map[Ident]*Spec
}

// NewRegistry compiles and registers specs. A schema compilation failure is
// a startup-time configuration error, not a per-request one.
func NewRegistry(specs ...*Spec) (*Registry, error) {
	r := &Registry{specs: make(map[Ident]*Spec, len(specs))}
	compiler := jsonschema.NewCompiler()
	for _, s := range specs {
		if len(s.InputSchema) > 0 {
			res, err := jsonschema.UnmarshalJSON(bytes.NewReader(s.InputSchema))
			if err != nil {
				return nil, fmt.Errorf("tools: parse schema for %s: %w", s.Name, err)
			}
			url := "mem://" + string(s.Name)
			if err := compiler.AddResource(url, res); err != nil {
				return nil, fmt.Errorf("tools: add schema for %s: %w", s.Name, err)
			}
			schema, err := compiler.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("tools: compile schema for %s: %w", s.Name, err)
			}
			s.compiled = schema
		}
		r.specs[s.Name] = s
	}
	return r, nil
}

// Available returns the tools whose Requires are all satisfied by ctx,
// sorted by name for deterministic schema ordering across calls within one
// turn.
func (r *Registry) Available(ctx *Context) []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		ok := true
		for _, cap := range s.Requires {
			if !ctx.Has(cap) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the spec registered under name, or nil if unknown.
func (r *Registry) Lookup(name Ident) *Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[name]
}

// Validate checks input against spec's compiled schema, if one was
// provided. Tools registered without a schema accept any object.
func (s *Spec) Validate(input map[string]any) error {
	if s.compiled == nil {
		return nil
	}
	return s.compiled.Validate(input)
}
