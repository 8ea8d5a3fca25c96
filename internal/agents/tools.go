package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

// Searcher is a web search provider. Implementations must return an error wrapping ErrNoResults when the
// query matched nothing.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

// WebFetcher visits a webpage. Failures are reported inside the result, never as an error.
type WebFetcher interface {
	Fetch(ctx context.Context, url string) models.WebpageResult
}

// ErrNoResults is returned by a Searcher when the query matched nothing.
var ErrNoResults = errors.New("no results found")

// DefaultMaxResults is the number of search results handed to the model per query.
const DefaultMaxResults = 10

// SearchTool exposes a Searcher to an agent as the web_search tool.
type SearchTool struct {
	searcher   Searcher
	maxResults int
}

// VisitWebpageTool exposes a WebFetcher to an agent as the visit_webpage tool.
type VisitWebpageTool struct {
	fetcher WebFetcher
}

type searchInput struct {
	Query string `json:"query"`
}

type visitWebpageInput struct {
	URL string `json:"url"`
}

var (
	searchToolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The search query to perform."}
  },
  "required": ["query"]
}`)

	visitWebpageToolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "The URL of the webpage to visit."}
  },
  "required": ["url"]
}`)
)

// NewSearchTool creates a web_search tool returning at most maxResults results per query. Non-positive
// maxResults falls back to DefaultMaxResults.
func NewSearchTool(searcher Searcher, maxResults int) SearchTool {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return SearchTool{
		searcher:   searcher,
		maxResults: maxResults,
	}
}

// Definition implements Tool.
func (s SearchTool) Definition() models.Tool {
	return models.Tool{
		Name:        "web_search",
		Description: "Performs a web search for your query, then returns a string of the top search results.",
		InputSchema: searchToolSchema,
	}
}

// Call implements Tool. An empty result set is reported to the model so it can retry with another query.
func (s SearchTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	var in searchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", &ToolError{Message: fmt.Sprintf("invalid arguments: %s", err)}
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", &ToolError{Message: "query is required"}
	}

	results, err := s.searcher.Search(ctx, in.Query, s.maxResults)
	if errors.Is(err, ErrNoResults) || (err == nil && len(results) == 0) {
		return "", &ToolError{Message: "No results found! Try a less restrictive/shorter query."}
	}
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	return FormatSearchResults(results), nil
}

// FormatSearchResults renders results as a markdown list of linked titles followed by their snippets.
// Results without a URL are rendered as their bare snippet.
func FormatSearchResults(results []models.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		if r.URL == "" {
			parts[i] = r.Snippet
			continue
		}
		parts[i] = fmt.Sprintf("[%s](%s)\n%s", r.Title, r.URL, r.Snippet)
	}
	return "## Search Results\n\n" + strings.Join(parts, "\n\n")
}

// NewVisitWebpageTool creates a visit_webpage tool.
func NewVisitWebpageTool(fetcher WebFetcher) VisitWebpageTool {
	return VisitWebpageTool{fetcher: fetcher}
}

// Definition implements Tool.
func (v VisitWebpageTool) Definition() models.Tool {
	return models.Tool{
		Name: "visit_webpage",
		Description: "Visits a webpage at the given URL and returns its URL and content as a markdown string, " +
			"or an error message if the request fails.",
		InputSchema: visitWebpageToolSchema,
	}
}

// Call implements Tool. Fetch failures come back as regular output carrying the failure reason.
func (v VisitWebpageTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	var in visitWebpageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", &ToolError{Message: fmt.Sprintf("invalid arguments: %s", err)}
	}
	return v.fetcher.Fetch(ctx, in.URL).String(), nil
}
