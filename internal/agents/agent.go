package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/google/uuid"
)

// LLM represents a large language model that supports tool calling. Chat accepts a system prompt, the
// conversation so far and the tools the model may call, returning an iterator that yields text chunks and
// call tool contents as they are produced, along with potential errors.
type LLM interface {
	Chat(ctx context.Context, systemPrompt string, messages []models.Message, tools []models.Tool) iter.Seq2[models.Content, error]
}

// Tool is a capability an Agent can invoke. Call receives the raw JSON arguments produced by the model
// and returns the text handed back to it.
//
// Call should return a *ToolError for failures the model can recover from, like a query with no results.
// Any other error aborts the whole run.
type Tool interface {
	Definition() models.Tool
	Call(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolError is a tool failure reported back to the model instead of aborting the run.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

// Agent is a tool-calling reasoning loop. On every step it sends its memory to the LLM, executes the tool
// calls the model asks for and appends their results, until the model replies without calling any tool.
// That reply is the final answer.
type Agent struct {
	name         string
	llm          LLM
	systemPrompt string
	maxSteps     int

	tools    []Tool
	toolsMap map[string]Tool

	logger *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// DefaultMaxSteps is the number of tool-calling steps an agent takes before being asked for a final answer.
const DefaultMaxSteps = 6

const (
	defaultSystemPrompt = `You are an expert assistant who solves tasks using the tools you are given.
Work step by step. When you need information, call a tool and wait for its result before continuing.
Never invent facts a tool did not return. When you have everything you need, reply with the final answer
as plain text, without calling any tool.`

	finalAnswerPrompt = `You have run out of steps. Based on the information gathered above, give your best
final answer to the original task now, without calling any tool.`

	errLoggerKey = "err"
)

var (
	// ErrUnknownTool is reported to the model when it calls a tool the agent does not have.
	ErrUnknownTool = errors.New("tool not found")
)

// WithSystemPrompt replaces the default system prompt. A blank prompt keeps the default.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(prompt) != "" {
			a.systemPrompt = prompt
		}
	}
}

// WithMaxSteps sets the number of tool-calling steps. Non-positive values keep the default.
func WithMaxSteps(steps int) Option {
	return func(a *Agent) {
		if steps > 0 {
			a.maxSteps = steps
		}
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New creates an Agent named name, driven by llm and bound to tools.
func New(name string, llm LLM, tools []Tool, opts ...Option) *Agent {
	a := &Agent{
		name:         name,
		llm:          llm,
		systemPrompt: defaultSystemPrompt,
		maxSteps:     DefaultMaxSteps,
		tools:        tools,
		toolsMap:     make(map[string]Tool, len(tools)),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, t := range tools {
		a.toolsMap[t.Definition().Name] = t
	}
	a.logger = a.logger.With(slog.String("agent", name))
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.name
}

// Run executes the loop for a natural-language task and returns the model's final answer. Errors from the
// LLM, and tool errors other than *ToolError, abort the run.
func (a *Agent) Run(ctx context.Context, task string) (string, error) {
	memory := []models.Message{
		models.NewTextMessage(uuid.New().String(), models.RoleUser, task),
		{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Timestamp: time.Now(),
		},
	}

	defs := make([]models.Tool, len(a.tools))
	for i, t := range a.tools {
		defs[i] = t.Definition()
	}

	// The assistant message collects every step; later messages are prompts.
	const workIdx = 1
	defer func() {
		a.logger.Debug("Agent memory",
			slog.String("trace", models.RenderContents(memory[workIdx].Contents, false)))
	}()

	for step := 0; step < a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := len(memory[workIdx].Contents)
		calls, err := a.step(ctx, memory, defs)
		if err != nil {
			return "", err
		}

		if len(calls) == 0 {
			answer := models.Message{Contents: memory[workIdx].Contents[start:]}.Text()
			a.logger.Debug("Final answer", slog.Int("step", step), slog.String("answer", answer))
			return strings.TrimSpace(answer), nil
		}

		for _, call := range calls {
			res, err := a.callTool(ctx, call)
			if err != nil {
				return "", err
			}
			memory[workIdx].Contents = append(memory[workIdx].Contents, res)
		}
	}

	a.logger.Warn("Reached max steps, asking for a final answer", slog.Int("maxSteps", a.maxSteps))

	memory = append(memory, models.NewTextMessage(uuid.New().String(), models.RoleUser, finalAnswerPrompt))
	// Providers reject tool calls and results in the history of a request without tools, so the tools stay
	// declared. Calls the model still makes are not executed.
	var sb strings.Builder
	for content, err := range a.llm.Chat(ctx, a.systemPrompt, memory, defs) {
		if err != nil {
			return "", fmt.Errorf("%s: error from llm provider: %w", a.name, err)
		}
		switch content.Type {
		case models.ContentTypeText:
			sb.WriteString(content.Text)
		case models.ContentTypeCallTool:
			a.logger.Warn("Ignoring tool call after max steps", slog.String("toolName", content.ToolName))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// step performs one LLM call, streaming its contents into the last message of memory. It returns the
// tool calls the model asked for.
func (a *Agent) step(ctx context.Context, memory []models.Message, tools []models.Tool) ([]models.Content, error) {
	aiMsg := &memory[len(memory)-1]
	textIdx := -1

	var calls []models.Content
	for content, err := range a.llm.Chat(ctx, a.systemPrompt, memory, tools) {
		if err != nil {
			a.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			return nil, fmt.Errorf("%s: error from llm provider: %w", a.name, err)
		}

		switch content.Type {
		case models.ContentTypeText:
			if textIdx == -1 {
				aiMsg.Contents = append(aiMsg.Contents, models.Content{Type: models.ContentTypeText})
				textIdx = len(aiMsg.Contents) - 1
			}
			aiMsg.Contents[textIdx].Text += content.Text
		case models.ContentTypeCallTool:
			if content.CallToolID == "" {
				content.CallToolID = uuid.New().String()
			}
			aiMsg.Contents = append(aiMsg.Contents, content)
			calls = append(calls, content)
		case models.ContentTypeToolResult:
			return nil, fmt.Errorf("%s: content type tool results is not allowed from llm", a.name)
		}
	}
	return calls, nil
}

func (a *Agent) callTool(ctx context.Context, call models.Content) (models.Content, error) {
	res := models.Content{
		Type:       models.ContentTypeToolResult,
		ToolName:   call.ToolName,
		CallToolID: call.CallToolID,
	}

	tool, ok := a.toolsMap[call.ToolName]
	if !ok {
		a.logger.Warn("Tool not found", slog.String("toolName", call.ToolName))
		res.ToolResult = fmt.Sprintf("%s: %s", ErrUnknownTool, call.ToolName)
		res.CallToolFailed = true
		return res, nil
	}

	// Models sometimes produce arguments that are not valid JSON. We tell the model instead of failing.
	if !json.Valid(call.ToolInput) {
		res.ToolResult = fmt.Sprintf("tool input %s is not valid json", string(call.ToolInput))
		res.CallToolFailed = true
		return res, nil
	}

	notify(ctx, Event{Agent: a.name, Tool: call.ToolName, Input: call.ToolInput})
	a.logger.Debug("Call Tool",
		slog.String("name", call.ToolName),
		slog.String("args", string(call.ToolInput)))

	out, err := tool.Call(ctx, call.ToolInput)
	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			return models.Content{}, fmt.Errorf("%s: tool %s failed: %w", a.name, call.ToolName, err)
		}
		a.logger.Warn("Tool call failed",
			slog.String("toolName", call.ToolName),
			slog.String(errLoggerKey, err.Error()))
		res.ToolResult = toolErr.Message
		res.CallToolFailed = true
		return res, nil
	}

	res.ToolResult = out
	return res, nil
}
