package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for interacting with OpenAI's language models, or
// any OpenAI compatible endpoint when a base URL is given.
type OpenAI struct {
	model string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL and model name. An empty
// baseURL targets the OpenAI API.
func NewOpenAI(apiKey, baseURL, model string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:  model,
		params: params,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, messages []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			msgs = append(msgs, openAIUserMessage(msg))
			continue
		}

		// Text and the tool calls following it belong to one assistant message, which must be followed
		// directly by the tool messages answering those calls.
		var cur *goopenai.ChatCompletionMessage
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
					cur = &goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant}
				}
				cur.Content += ct.Text
			case models.ContentTypeCallTool:
				if cur == nil {
					cur = &goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant}
				}
				cur.ToolCalls = append(cur.ToolCalls, goopenai.ToolCall{
					Type: goopenai.ToolTypeFunction,
					ID:   ct.CallToolID,
					Function: goopenai.FunctionCall{
						Name:      ct.ToolName,
						Arguments: string(ct.ToolInput),
					},
				})
			case models.ContentTypeToolResult:
				flush()
				msgs = append(msgs, goopenai.ChatCompletionMessage{
					Role:       goopenai.ChatMessageRoleTool,
					Content:    ct.ToolResult,
					ToolCallID: ct.CallToolID,
				})
			}
		}
		flush()
	}
	return msgs
}

func openAIUserMessage(msg models.Message) goopenai.ChatCompletionMessage {
	if len(msg.Contents) == 1 {
		return goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: msg.Contents[0].Text,
		}
	}
	parts := make([]goopenai.ChatMessagePart, 0, len(msg.Contents))
	for _, ct := range msg.Contents {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeText,
			Text: ct.Text,
		})
	}
	return goopenai.ChatCompletionMessage{
		Role:         goopenai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

func openAITools(tools []models.Tool) []goopenai.Tool {
	if len(tools) == 0 {
		return nil
	}
	oTools := make([]goopenai.Tool, len(tools))
	for i, tool := range tools {
		oTools[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return oTools
}

// Chat is a wrapper around the OpenAI chat completion streaming API.
func (o OpenAI) Chat(
	ctx context.Context,
	systemPrompt string,
	messages []models.Message,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		req := o.chatRequest(openAIMessages(systemPrompt, messages), openAITools(tools), true)

		reqJSON, err := json.Marshal(req)
		if err == nil {
			o.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		// Tool call deltas are keyed by their index; arguments arrive in fragments.
		var calls []models.Content
		var args []string
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				yield(models.Content{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			res := response.Choices[0].Delta
			if res.Content != "" {
				if !yield(models.Content{
					Type: models.ContentTypeText,
					Text: res.Content,
				}, nil) {
					return
				}
			}
			for i, tc := range res.ToolCalls {
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
		}

		for i, call := range calls {
			if args[i] == "" {
				args[i] = "{}"
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

func (o OpenAI) chatRequest(
	messages []goopenai.ChatCompletionMessage,
	tools []goopenai.Tool,
	stream bool,
) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
		Tools:    tools,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}

	return req
}
