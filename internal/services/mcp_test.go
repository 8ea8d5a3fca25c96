package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/services"
)

type mockToolServer struct {
	results map[string][]mcp.Content
}

func (m mockToolServer) ListTools(
	context.Context, mcp.ListToolsParams, mcp.ProgressReporter, mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "web_search"}}}, nil
}

func (m mockToolServer) CallTool(
	_ context.Context, params mcp.CallToolParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	return mcp.CallToolResult{Content: m.results[args.Query]}, nil
}

func newMCPClient(t *testing.T, ts mcp.ToolServer) *mcp.Client {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	srv := mcp.NewServer(mcp.Info{Name: "search", Version: "1.0"},
		mcp.NewStdIO(serverReader, serverWriter), mcp.WithToolServer(ts))
	go srv.Serve()

	cli := mcp.NewClient(mcp.Info{Name: "websearch-chat", Version: "0.1.0"}, mcp.NewStdIO(clientReader, clientWriter))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := services.ConnectMCP(ctx, cli); err != nil {
		t.Fatalf("ConnectMCP() error = %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cli.Disconnect(ctx)
		_ = srv.Shutdown(ctx)
	})
	return cli
}

func TestMCPSearch(t *testing.T) {
	cli := newMCPClient(t, mockToolServer{results: map[string][]mcp.Content{
		"capital of france": {
			{Type: mcp.ContentTypeText, Text: "Paris is the capital of France."},
			{Type: mcp.ContentTypeImage, Data: "aGVsbG8="},
			{Type: mcp.ContentTypeText, Text: " https://en.wikipedia.org/wiki/Paris "},
		},
	}})
	s := services.NewMCPSearch(cli, "web_search", "", "", slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := s.Search(ctx, "capital of france", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[1].Snippet != "https://en.wikipedia.org/wiki/Paris" {
		t.Errorf("results[1].Snippet = %q", results[1].Snippet)
	}

	if _, err := s.Search(ctx, "nothing", 10); !errors.Is(err, agents.ErrNoResults) {
		t.Errorf("Search() error = %v, want %v", err, agents.ErrNoResults)
	}
}
