package services

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	model string

	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:  model,
		params: params,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

func ollamaMessages(systemPrompt string, messages []models.Message) ([]api.Message, error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: systemPrompt})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			msgs = append(msgs, api.Message{Role: "user", Content: msg.Text()})
			continue
		}

		var cur *api.Message
		flush := func() {
			if cur != nil {
				msgs = append(msgs, *cur)
				cur = nil
			}
		}
		for _, ct := range msg.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text == "" {
					continue
				}
				if cur != nil && len(cur.ToolCalls) > 0 {
					flush()
				}
				if cur == nil {
					cur = &api.Message{Role: "assistant"}
				}
				cur.Content += ct.Text
			case models.ContentTypeCallTool:
				args, err := toolArguments(ct.ToolInput)
				if err != nil {
					return nil, err
				}
				if cur == nil {
					cur = &api.Message{Role: "assistant"}
				}
				cur.ToolCalls = append(cur.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      ct.ToolName,
						Arguments: args,
					},
				})
			case models.ContentTypeToolResult:
				flush()
				msgs = append(msgs, api.Message{Role: "tool", Content: ct.ToolResult})
			}
		}
		flush()
	}
	return msgs, nil
}

// ollamaTools converts tool definitions by decoding the OpenAI style function envelope, which is the shape
// api.Tool is declared with.
func ollamaTools(tools []models.Tool) ([]api.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	oTools := make([]api.Tool, len(tools))
	for i, t := range tools {
		envelope, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("error marshaling tool %s: %w", t.Name, err)
		}
		if err := json.Unmarshal(envelope, &oTools[i]); err != nil {
			return nil, fmt.Errorf("error decoding tool %s: %w", t.Name, err)
		}
	}
	return oTools, nil
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		opts["presence_penalty"] = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// Chat implements the LLM interface by streaming responses from the Ollama model. Text chunks are yielded
// as they arrive, tool calls are yielded once the server reports them.
func (o Ollama) Chat(
	ctx context.Context,
	systemPrompt string,
	messages []models.Message,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		msgs, err := ollamaMessages(systemPrompt, messages)
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error creating ollama messages: %w", err))
			return
		}
		oTools, err := ollamaTools(tools)
		if err != nil {
			yield(models.Content{}, err)
			return
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
			Tools:    oTools,
			Options:  o.options(),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			if res.Message.Content != "" {
				if !yield(models.Content{Type: models.ContentTypeText, Text: res.Message.Content}, nil) {
					stopped = true
					cancel()
					return nil
				}
			}
			for _, tc := range res.Message.ToolCalls {
				args, err := json.Marshal(tc.Function.Arguments)
				if err != nil {
					return fmt.Errorf("error marshaling tool arguments: %w", err)
				}
				o.logger.Debug("Call Tool",
					slog.String("name", tc.Function.Name),
					slog.String("args", string(args)))
				if !yield(models.Content{
					Type:      models.ContentTypeCallTool,
					ToolName:  tc.Function.Name,
					ToolInput: args,
				}, nil) {
					stopped = true
					cancel()
					return nil
				}
			}
			return nil
		}); err != nil {
			if stopped {
				return
			}
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
		}
	}
}
