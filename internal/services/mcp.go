package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

// MCPSearch implements the Searcher interface by calling a search tool exposed by an MCP server, e.g. a
// Brave or Tavily search server. Every text content of the tool result becomes one search result.
type MCPSearch struct {
	client *mcp.Client

	tool     string
	queryArg string
	countArg string

	logger *slog.Logger
}

// NewMCPSearch creates a searcher calling tool on an already connected client. queryArg names the tool
// argument receiving the query ("query" when empty); countArg, when set, names the argument receiving the
// maximum number of results.
func NewMCPSearch(client *mcp.Client, tool, queryArg, countArg string, logger *slog.Logger) MCPSearch {
	if queryArg == "" {
		queryArg = "query"
	}
	return MCPSearch{
		client:   client,
		tool:     tool,
		queryArg: queryArg,
		countArg: countArg,
		logger:   logger.With(slog.String("module", "mcpsearch")),
	}
}

// ConnectMCP connects cli and blocks until the initialization handshake finishes. The connection lives
// until ctx is cancelled.
func ConnectMCP(ctx context.Context, cli *mcp.Client) error {
	if err := cli.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to mcp server: %w", err)
	}
	return nil
}

// Search implements the Searcher interface.
func (m MCPSearch) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	args, err := m.arguments(query, maxResults)
	if err != nil {
		return nil, err
	}

	res, err := m.client.CallTool(ctx, mcp.CallToolParams{
		Name:      m.tool,
		Arguments: args,
	})
	if err != nil {
		m.logger.Error("Tool call failed",
			slog.String("toolName", m.tool),
			slog.String(errLoggerKey, err.Error()))
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	results := mcpSearchResults(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("mcp tool %s returned an error: %s", m.tool, joinSnippets(results))
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("mcp tool %s: %w", m.tool, agents.ErrNoResults)
	}
	return results, nil
}

func (m MCPSearch) arguments(query string, maxResults int) (json.RawMessage, error) {
	args := map[string]any{m.queryArg: query}
	if m.countArg != "" && maxResults > 0 {
		args[m.countArg] = maxResults
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	return b, nil
}

func mcpSearchResults(contents []mcp.Content) []models.SearchResult {
	var results []models.SearchResult
	for _, ct := range contents {
		if ct.Type != mcp.ContentTypeText || strings.TrimSpace(ct.Text) == "" {
			continue
		}
		results = append(results, models.SearchResult{Snippet: strings.TrimSpace(ct.Text)})
	}
	return results
}

func joinSnippets(results []models.SearchResult) string {
	snippets := make([]string, len(results))
	for i, r := range results {
		snippets[i] = r.Snippet
	}
	return strings.Join(snippets, "; ")
}
