package agents

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline answers a factual question end to end: a manager agent delegates web research to a managed
// web agent, then a Formatter turns the manager's answer into bullet points with references.
type Pipeline struct {
	manager   *Agent
	formatter Formatter

	logger *slog.Logger
}

// PipelineConfig tunes the agents built by NewPipeline. Zero values select the defaults.
type PipelineConfig struct {
	MaxSteps   int
	MaxResults int
	// SystemPrompt replaces the system prompt of the web and manager agents.
	SystemPrompt string
	Logger       *slog.Logger
}

const (
	webAgentName       = "web_agent"
	managerAgentName   = "manager"
	searchAgentName    = "search"
	searchAgentPurpose = "Runs web searches for you. Give it your query as an argument."

	sourcesDirective = "You must provide source URLs with your final answer."
)

// NewPipeline wires the web agent (bound to searcher and fetcher), the manager agent that delegates to it
// and the answer formatter, all driven by llm.
func NewPipeline(llm LLM, searcher Searcher, fetcher WebFetcher, cfg PipelineConfig) Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	webAgent := New(webAgentName, llm,
		[]Tool{
			NewSearchTool(searcher, cfg.MaxResults),
			NewVisitWebpageTool(fetcher),
		},
		WithMaxSteps(cfg.MaxSteps),
		WithSystemPrompt(cfg.SystemPrompt),
		WithLogger(logger),
	)

	manager := New(managerAgentName, llm,
		[]Tool{NewManagedAgent(webAgent, searchAgentName, searchAgentPurpose)},
		WithMaxSteps(cfg.MaxSteps),
		WithSystemPrompt(cfg.SystemPrompt),
		WithLogger(logger),
	)

	return Pipeline{
		manager:   manager,
		formatter: NewFormatter(llm),
		logger:    logger.With(slog.String("module", "pipeline")),
	}
}

// Answer runs the manager agent on query and formats its output. progress, if not nil, receives a status
// line for every tool call made by any agent of the pipeline.
func (p Pipeline) Answer(ctx context.Context, query string, progress func(string)) (string, error) {
	if progress != nil {
		ctx = ContextWithObserver(ctx, func(e Event) {
			progress(e.String())
		})
	}

	raw, err := p.manager.Run(ctx, fmt.Sprintf("%s\n\n%s", query, sourcesDirective))
	if err != nil {
		return "", fmt.Errorf("error running %s agent: %w", p.manager.Name(), err)
	}
	p.logger.Debug("Raw answer", slog.String("agent", p.manager.Name()), slog.String("answer", raw))

	if progress != nil {
		progress("Formatting the answer")
	}
	return p.formatter.Format(ctx, raw)
}
