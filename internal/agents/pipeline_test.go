package agents_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

func TestSearchTool(t *testing.T) {
	errDown := errors.New("search provider down")

	tests := []struct {
		name        string
		searcher    *mockSearcher
		input       string
		want        []string
		wantToolErr bool
		wantErr     error
	}{
		{
			name: "Results",
			searcher: &mockSearcher{results: []models.SearchResult{
				{Title: "Paris", URL: "https://en.wikipedia.org/wiki/Paris", Snippet: "Capital of France."},
				{Title: "France", URL: "https://en.wikipedia.org/wiki/France", Snippet: "A country."},
			}},
			input: `{"query":"capital of France"}`,
			want: []string{
				"## Search Results",
				"[Paris](https://en.wikipedia.org/wiki/Paris)\nCapital of France.",
				"[France](https://en.wikipedia.org/wiki/France)\nA country.",
			},
		},
		{
			name:        "No results",
			searcher:    &mockSearcher{err: fmt.Errorf("duckduckgo: %w", agents.ErrNoResults)},
			input:       `{"query":"zzzz"}`,
			wantToolErr: true,
		},
		{
			name:        "Empty result set",
			searcher:    &mockSearcher{},
			input:       `{"query":"zzzz"}`,
			wantToolErr: true,
		},
		{
			name:        "Empty query",
			searcher:    &mockSearcher{},
			input:       `{"query":""}`,
			wantToolErr: true,
		},
		{
			name:     "Provider failure",
			searcher: &mockSearcher{err: errDown},
			input:    `{"query":"paris"}`,
			wantErr:  errDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := agents.NewSearchTool(tt.searcher, 0)
			got, err := tool.Call(context.Background(), json.RawMessage(tt.input))

			var toolErr *agents.ToolError
			if tt.wantToolErr {
				if !errors.As(err, &toolErr) {
					t.Fatalf("Call() error = %v, want *ToolError", err)
				}
				return
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || errors.As(err, &toolErr) {
					t.Fatalf("Call() error = %v, want fatal %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Call() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestVisitWebpageTool(t *testing.T) {
	fetcher := mockFetcher{pages: map[string]models.WebpageResult{
		"https://example.com": {URL: "https://example.com", Content: "# Example"},
	}}
	tool := agents.NewVisitWebpageTool(fetcher)

	got, err := tool.Call(context.Background(), json.RawMessage(`{"url":"https://example.com"}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "URL: https://example.com\n\n# Example" {
		t.Errorf("Call() = %q", got)
	}

	got, err = tool.Call(context.Background(), json.RawMessage(`{"url":"https://example.com/missing"}`))
	if err != nil {
		t.Fatalf("Call() on failing page error = %v, want nil", err)
	}
	if !strings.Contains(got, "Error fetching the webpage") {
		t.Errorf("Call() = %q, want the failure reason", got)
	}
}

func TestFormatter(t *testing.T) {
	llm := &mockLLM{replies: []mockReply{reply(text("- Paris\n\nREFERENCES\n"), text("- https://example.com"))}}
	f := agents.NewFormatter(llm)

	got, err := f.Format(context.Background(), "Paris is the capital. Source: https://example.com")
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got != "- Paris\n\nREFERENCES\n- https://example.com" {
		t.Errorf("Format() = %q, want the completion verbatim", got)
	}

	msgs := llm.calls[0].messages
	if len(msgs) != 1 || len(msgs[0].Contents) != 2 {
		t.Fatalf("Format() sent %+v, want one message with two parts", msgs)
	}
	if msgs[0].Contents[0].Text != agents.FormatPrompt {
		t.Errorf("first part = %q, want the format instruction", msgs[0].Contents[0].Text)
	}
	if msgs[0].Contents[1].Text != "Paris is the capital. Source: https://example.com" {
		t.Errorf("second part = %q, want the raw answer", msgs[0].Contents[1].Text)
	}
	if llm.calls[0].tools != nil {
		t.Errorf("Format() should not offer tools")
	}

	errQuota := errors.New("quota")
	f = agents.NewFormatter(&mockLLM{replies: []mockReply{{err: errQuota}}})
	if _, err := f.Format(context.Background(), "raw"); !errors.Is(err, errQuota) {
		t.Errorf("Format() error = %v, want %v", err, errQuota)
	}
}

func TestPipelineAnswer(t *testing.T) {
	searcher := &mockSearcher{results: []models.SearchResult{
		{Title: "Paris - Wikipedia", URL: "https://en.wikipedia.org/wiki/Paris", Snippet: "Paris is the capital of France."},
	}}
	fetcher := mockFetcher{pages: map[string]models.WebpageResult{
		"https://en.wikipedia.org/wiki/Paris": {
			URL:     "https://en.wikipedia.org/wiki/Paris",
			Content: "Paris is the capital and largest city of France.",
		},
	}}

	// Calls arrive in order: manager, web agent (three steps), manager again, formatter.
	llm := &mockLLM{replies: []mockReply{
		reply(callTool("search", `{"query":"capital of France"}`)),
		reply(callTool("web_search", `{"query":"capital of France"}`)),
		reply(callTool("visit_webpage", `{"url":"https://en.wikipedia.org/wiki/Paris"}`)),
		reply(text("### 1. Task outcome (short version):\nParis. https://en.wikipedia.org/wiki/Paris")),
		reply(text("The capital of France is Paris. Source: https://en.wikipedia.org/wiki/Paris")),
		reply(text("- The capital of France is Paris.\n\nREFERENCES\n- https://en.wikipedia.org/wiki/Paris")),
	}}

	p := agents.NewPipeline(llm, searcher, fetcher, agents.PipelineConfig{})

	var progress []string
	got, err := p.Answer(context.Background(), "What is the capital of France?", func(s string) {
		progress = append(progress, s)
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got == "" || !strings.Contains(got, "REFERENCES") {
		t.Errorf("Answer() = %q, want a non-empty answer with a REFERENCES section", got)
	}

	managerTask := llm.calls[0].messages[0].Text()
	if !strings.HasPrefix(managerTask, "What is the capital of France?") ||
		!strings.Contains(managerTask, "You must provide source URLs with your final answer") {
		t.Errorf("manager task = %q, want the query with the sources directive", managerTask)
	}
	if tools := llm.calls[0].tools; len(tools) != 1 || tools[0].Name != "search" {
		t.Errorf("manager tools = %+v, want only the search agent", tools)
	}
	var webTools []string
	for _, tool := range llm.calls[1].tools {
		webTools = append(webTools, tool.Name)
	}
	if strings.Join(webTools, ",") != "web_search,visit_webpage" {
		t.Errorf("web agent tools = %v", webTools)
	}

	if len(searcher.queries) != 1 || searcher.queries[0] != "capital of France" {
		t.Errorf("search queries = %v", searcher.queries)
	}

	formatted := llm.calls[5].messages[0].Contents[1].Text
	if formatted != "The capital of France is Paris. Source: https://en.wikipedia.org/wiki/Paris" {
		t.Errorf("formatter input = %q, want the manager answer", formatted)
	}

	wantProgress := []string{
		`manager: search {"query":"capital of France"}`,
		`web_agent: web_search {"query":"capital of France"}`,
		`web_agent: visit_webpage {"url":"https://en.wikipedia.org/wiki/Paris"}`,
		"Formatting the answer",
	}
	if strings.Join(progress, "\n") != strings.Join(wantProgress, "\n") {
		t.Errorf("progress = %q, want %q", progress, wantProgress)
	}
}

func TestPipelineAnswerUpstreamFailure(t *testing.T) {
	errDown := errors.New("search provider down")
	searcher := &mockSearcher{err: errDown}
	llm := &mockLLM{replies: []mockReply{
		reply(callTool("search", `{"query":"capital of France"}`)),
		reply(callTool("web_search", `{"query":"capital of France"}`)),
	}}

	p := agents.NewPipeline(llm, searcher, mockFetcher{}, agents.PipelineConfig{})
	if _, err := p.Answer(context.Background(), "What is the capital of France?", nil); !errors.Is(err, errDown) {
		t.Errorf("Answer() error = %v, want %v", err, errDown)
	}
}

func TestPipelineSystemPrompt(t *testing.T) {
	llm := &mockLLM{replies: []mockReply{
		reply(callTool("search", `{"query":"capital of France"}`)),
		reply(text("Paris. https://en.wikipedia.org/wiki/Paris")),
		reply(text("The capital of France is Paris.")),
		reply(text("- Paris.\n\nREFERENCES\n- https://en.wikipedia.org/wiki/Paris")),
	}}

	p := agents.NewPipeline(llm, &mockSearcher{}, mockFetcher{}, agents.PipelineConfig{
		SystemPrompt: "Answer like a librarian.",
	})
	if _, err := p.Answer(context.Background(), "What is the capital of France?", nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	// Manager, web agent, manager again; the formatter keeps its own prompt.
	for i, call := range llm.calls[:3] {
		if call.systemPrompt != "Answer like a librarian." {
			t.Errorf("call %d system prompt = %q, want the configured one", i, call.systemPrompt)
		}
	}
	if llm.calls[3].systemPrompt == "Answer like a librarian." {
		t.Error("formatter should not use the agents' system prompt")
	}
}
