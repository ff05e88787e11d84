package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/simage-ai/convoengine/internal/tools"
)

// searchTopK is fixed for this port: the spec's query-route top_k query
// parameter applies only to the non-tool convenience route, not to this
// tool's own invocation (SPEC_FULL §4.2.1).
const searchTopK = 5

// snippetWindow bounds how much of a hit's content is kept for the sources
// metadata payload before the sentence-boundary snippet extractor runs.
const snippetWindow = 200

// SearchDocumentsSchema is the JSON Schema for search_documents.
const SearchDocumentsSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Natural-language search query."}
  },
  "required": ["query"]
}`

// NewSearchDocuments constructs the search_documents tool spec.
func NewSearchDocuments(namespaces []string) *tools.Spec {
	return &tools.Spec{
		Name:            "search_documents",
		Description:     "Semantically search the project's indexed documents and return the most relevant passages.",
		InputSchema:     []byte(SearchDocumentsSchema),
		Requires:        []tools.Capability{tools.CapabilityRetriever},
		DisplayTemplate: "Searching documents for \"{query}\"",
		Execute: func(ctx *tools.Context, input map[string]any) (tools.Result, error) {
			query, _ := input["query"].(string)
			return execSearchDocuments(ctx, namespaces, query)
		},
	}
}

func execSearchDocuments(ctx *tools.Context, namespaces []string, query string) (tools.Result, error) {
	hits, err := ctx.Retriever.Search(ctx.Context, ctx.ProjectID, namespaces, query, searchTopK)
	if err != nil {
		return tools.Result{}, fmt.Errorf("search_documents: %w", err)
	}
	if len(hits) == 0 {
		return tools.Result{Content: "No relevant passages were found.", Success: true, Metadata: map[string]any{"found": 0}}, nil
	}

	blocks := make([]string, 0, len(hits))
	sources := make([]map[string]any, 0, len(hits))
	for i, h := range hits {
		blocks = append(blocks, fmt.Sprintf("[%d] From %s:\n%s", i+1, h.Source, h.Content))
		src := map[string]any{
			"index":   i + 1,
			"source":  h.Source,
			"snippet": extractSnippet(h.Content, snippetWindow),
		}
		if h.ResourceType == "repository" && h.FilePath != "" {
			if url := buildGitHubURL(ctxResourceGitHubBase(ctx, h.ResourceID), h.FilePath, h.LineStart, h.LineEnd); url != "" {
				src["url"] = url
			}
		}
		sources = append(sources, src)
	}

	return tools.Result{
		Content: strings.Join(blocks, "\n\n---\n\n"),
		Success: true,
		Metadata: map[string]any{
			"found":   len(hits),
			"sources": sources,
		},
	}, nil
}

func ctxResourceGitHubBase(ctx *tools.Context, resourceID string) string {
	for _, r := range ctx.Resources() {
		if r.ID == resourceID {
			return r.GitHubBaseURL
		}
	}
	return ""
}

var sentenceBoundary = regexp.MustCompile(`[.?!]\s`)

// extractSnippet mirrors the original's sentence-boundary-aware snippet
// extractor: try the first sentence-terminated run within 100 chars, else
// truncate at the last word boundary before limit and append "...".
func extractSnippet(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	window := content[:min(limit/2+50, len(content))]
	if loc := sentenceBoundary.FindStringIndex(window); loc != nil && loc[1] <= 100 {
		return content[:loc[1]]
	}
	cut := content[:limit]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// buildGitHubURL constructs a permalink from a base repo URL, file path,
// and optional line range, mirroring _build_github_url in search.py.
func buildGitHubURL(base, path string, lineStart, lineEnd int) string {
	if base == "" || path == "" {
		return ""
	}
	url := strings.TrimSuffix(base, "/") + "/blob/main/" + strings.TrimPrefix(path, "/")
	if lineStart > 0 {
		if lineEnd > lineStart {
			url += fmt.Sprintf("#L%d-L%d", lineStart, lineEnd)
		} else {
			url += fmt.Sprintf("#L%d", lineStart)
		}
	}
	return url
}

// SearchWebSchema is the JSON Schema for search_web.
const SearchWebSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Web search query."}
  },
  "required": ["query"]
}`

const webMaxResults = 5

// NewSearchWeb constructs the search_web tool spec. It degrades to a
// found=0 result rather than an error when no API key is configured or the
// provider returns nothing, matching the original's behavior.
func NewSearchWeb() *tools.Spec {
	return &tools.Spec{
		Name:            "search_web",
		Description:     "Search the public web for information not present in the project's own resources.",
		InputSchema:     []byte(SearchWebSchema),
		Requires:        []tools.Capability{tools.CapabilityWebSearch},
		DisplayTemplate: "Searching the web for \"{query}\"",
		Execute:         execSearchWeb,
	}
}

func execSearchWeb(ctx *tools.Context, input map[string]any) (tools.Result, error) {
	query, _ := input["query"].(string)
	if ctx.TavilyAPIKey == "" {
		return tools.Result{Content: "Web search is not configured for this project.", Success: true, Metadata: map[string]any{"found": 0}}, nil
	}
	hits, err := ctx.WebSearch.Search(ctx.Context, ctx.TavilyAPIKey, query, webMaxResults)
	if err != nil {
		return tools.Result{Content: "Web search failed; continuing without web results.", Success: true, Metadata: map[string]any{"found": 0}}, nil
	}
	if len(hits) == 0 {
		return tools.Result{Content: "No web results were found.", Success: true, Metadata: map[string]any{"found": 0}}, nil
	}
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		content := h.Content
		if len(content) > 500 {
			content = content[:500]
		}
		blocks = append(blocks, fmt.Sprintf("[%d] [%s](%s)\n%s", i+1, h.Title, h.URL, content))
	}
	blocks = append(blocks, "Cite web results with markdown links to their source URL.")
	return tools.Result{Content: strings.Join(blocks, "\n\n"), Success: true, Metadata: map[string]any{"found": len(hits)}}, nil
}

// TavilyWebSearcher implements tools.WebSearcher against the Tavily search
// API, matching the original's search_depth=basic, max_results=5, 10s
// timeout configuration.
type TavilyWebSearcher struct {
	HTTPClient *http.Client
}

func (s *TavilyWebSearcher) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (s *TavilyWebSearcher) Search(ctx context.Context, apiKey, query string, maxResults int) ([]tools.WebHit, error) {
	body, _ := json.Marshal(map[string]any{
		"api_key":       apiKey,
		"query":         query,
		"search_depth":  "basic",
		"max_results":   maxResults,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	hits := make([]tools.WebHit, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		hits = append(hits, tools.WebHit{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return hits, nil
}
