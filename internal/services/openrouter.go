package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// OpenRouter provides an implementation of the LLM interface for interacting with OpenRouter's language models.
type OpenRouter struct {
	apiKey   string
	endpoint string
	model    string

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model            string              `json:"model"`
	Messages         []openRouterMessage `json:"messages"`
	Tools            []openRouterTool    `json:"tools,omitempty"`
	Stream           bool                `json:"stream"`
	Temperature      *float32            `json:"temperature,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	Stop             []string            `json:"stop,omitempty"`
	PresencePenalty  *float32            `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32            `json:"frequency_penalty,omitempty"`
	Seed             *int                `json:"seed,omitempty"`
}

type openRouterMessage struct {
	Role       string               `json:"role,omitempty"`
	Content    string               `json:"content,omitempty"`
	ToolCalls  []openRouterToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

type openRouterToolCall struct {
	Index    *int                       `json:"index,omitempty"`
	ID       string                     `json:"id,omitempty"`
	Type     string                     `json:"type,omitempty"`
	Function openRouterToolCallFunction `json:"function"`
}

type openRouterToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openRouterTool struct {
	Type     string                 `json:"type"`
	Function openRouterToolFunction `json:"function"`
}

type openRouterToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openRouterStreamingResponse struct {
	Choices []openRouterStreamingChoice `json:"choices"`
}

type openRouterStreamingChoice struct {
	Delta openRouterMessage `json:"delta"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
)

// NewOpenRouter creates a new OpenRouter instance with the specified API key and model name. An empty
// endpoint targets the public OpenRouter API.
func NewOpenRouter(apiKey, endpoint, model string, params LLMParameters, logger *slog.Logger) OpenRouter {
	if endpoint == "" {
		endpoint = openRouterAPIEndpoint
	}
	return OpenRouter{
		apiKey:   apiKey,
		endpoint: endpoint,
		model:    model,
		params:   params,
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", "openrouter")),
	}
}

// Chat streams responses from the OpenRouter API. Text deltas are yielded as they arrive; tool call
// fragments are assembled by index and yielded after the stream ends.
func (o OpenRouter) Chat(
	ctx context.Context,
	systemPrompt string,
	messages []models.Message,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		resp, err := o.doRequest(ctx, systemPrompt, messages, tools)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		var calls []models.Content
		var args []string
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield(models.Content{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			o.logger.Debug("Received event", slog.String("event", ev.Data))

			if ev.Data == "[DONE]" {
				break
			}

			var res openRouterStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield(models.Content{}, fmt.Errorf("error unmarshaling response: %w", err))
				return
			}
			if len(res.Choices) == 0 {
				continue
			}
			delta := res.Choices[0].Delta

			for i, tc := range delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				for len(calls) <= idx {
					calls = append(calls, models.Content{Type: models.ContentTypeCallTool})
					args = append(args, "")
				}
				if tc.ID != "" {
					calls[idx].CallToolID = tc.ID
				}
				if tc.Function.Name != "" {
					calls[idx].ToolName = tc.Function.Name
				}
				args[idx] += tc.Function.Arguments
			}

			if delta.Content != "" {
				if !yield(models.Content{Type: models.ContentTypeText, Text: delta.Content}, nil) {
					return
				}
			}
		}

		for i, call := range calls {
			if args[i] == "" {
				args[i] = "{}"
			}
			// Some upstream providers omit call IDs, which the follow-up tool messages must reference.
			if call.CallToolID == "" {
				call.CallToolID = uuid.NewString()
			}
			call.ToolInput = json.RawMessage(args[i])
			o.logger.Debug("Call Tool",
				slog.String("name", call.ToolName),
				slog.String("args", args[i]),
			)
			if !yield(call, nil) {
				return
			}
		}
	}
}

func openRouterMessages(systemPrompt string, messages []models.Message) []openRouterMessage {
	msgs := make([]openRouterMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openRouterMessage{Role: "system", Content: systemPrompt})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			msgs = append(msgs, openRouterMessage{Role: "user", Content: msg.Text()})
			continue
		}

		var cur *openRouterMessage
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
					cur = &openRouterMessage{Role: "assistant"}
				}
				cur.Content += ct.Text
			case models.ContentTypeCallTool:
				if cur == nil {
					cur = &openRouterMessage{Role: "assistant"}
				}
				cur.ToolCalls = append(cur.ToolCalls, openRouterToolCall{
					ID:   ct.CallToolID,
					Type: "function",
					Function: openRouterToolCallFunction{
						Name:      ct.ToolName,
						Arguments: string(ct.ToolInput),
					},
				})
			case models.ContentTypeToolResult:
				flush()
				msgs = append(msgs, openRouterMessage{
					Role:       "tool",
					ToolCallID: ct.CallToolID,
					Content:    ct.ToolResult,
				})
			}
		}
		flush()
	}
	return msgs
}

func (o OpenRouter) doRequest(
	ctx context.Context,
	systemPrompt string,
	messages []models.Message,
	tools []models.Tool,
) (*http.Response, error) {
	oTools := make([]openRouterTool, len(tools))
	for i, tool := range tools {
		oTools[i] = openRouterTool{
			Type: "function",
			Function: openRouterToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}

	reqBody := openRouterChatRequest{
		Model:            o.model,
		Messages:         openRouterMessages(systemPrompt, messages),
		Stream:           true,
		Tools:            oTools,
		Temperature:      o.params.Temperature,
		TopP:             o.params.TopP,
		Stop:             o.params.Stop,
		PresencePenalty:  o.params.PresencePenalty,
		FrequencyPenalty: o.params.FrequencyPenalty,
		Seed:             o.params.Seed,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	o.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.endpoint+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/websearch-chat/")
	req.Header.Set("X-Title", "Chat with Web Search")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
