package services

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/liushuangls/go-anthropic/v2"
)

// Anthropic provides an implementation of the LLM interface for Anthropic's Claude models.
type Anthropic struct {
	model     string
	maxTokens int

	params LLMParameters

	client *anthropic.Client

	logger *slog.Logger
}

// NewAnthropic creates a new Anthropic instance with the specified API key, model name and maximum token
// limit per completion.
func NewAnthropic(apiKey, model string, maxTokens int, params LLMParameters, logger *slog.Logger) Anthropic {
	return Anthropic{
		model:     model,
		maxTokens: maxTokens,
		params:    params,
		client:    anthropic.NewClient(apiKey),
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// anthropicMessages converts messages to Anthropic messages. Text and tool use blocks of an assistant message
// belong to the assistant, tool results are user blocks. Consecutive blocks of one role are merged into a
// single message, as the API requires roles to alternate.
func anthropicMessages(messages []models.Message) []anthropic.Message {
	var msgs []anthropic.Message
	appendBlock := func(role anthropic.ChatRole, block anthropic.MessageContent) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, block)
			return
		}
		msgs = append(msgs, anthropic.Message{Role: role, Content: []anthropic.MessageContent{block}})
	}

	for _, msg := range messages {
		for _, ct := range msg.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text == "" {
					continue
				}
				role := anthropic.RoleAssistant
				if msg.Role == models.RoleUser {
					role = anthropic.RoleUser
				}
				appendBlock(role, anthropic.NewTextMessageContent(ct.Text))
			case models.ContentTypeCallTool:
				input := ct.ToolInput
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				appendBlock(anthropic.RoleAssistant, anthropic.NewToolUseMessageContent(ct.CallToolID, ct.ToolName, input))
			case models.ContentTypeToolResult:
				appendBlock(anthropic.RoleUser,
					anthropic.NewToolResultMessageContent(ct.CallToolID, ct.ToolResult, ct.CallToolFailed))
			}
		}
	}
	return msgs
}

func anthropicTools(tools []models.Tool) []anthropic.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]anthropic.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return defs
}

// Chat sends the conversation to the Anthropic messages API and yields the blocks of the reply: text
// blocks as text contents and tool use blocks as call tool contents.
func (a Anthropic) Chat(
	ctx context.Context,
	systemPrompt string,
	messages []models.Message,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		req := anthropic.MessagesRequest{
			Model:         anthropic.Model(a.model),
			Messages:      anthropicMessages(messages),
			System:        systemPrompt,
			MaxTokens:     a.maxTokens,
			Tools:         anthropicTools(tools),
			Temperature:   a.params.Temperature,
			TopP:          a.params.TopP,
			StopSequences: a.params.Stop,
		}

		resp, err := a.client.CreateMessages(ctx, req)
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
			return
		}

		a.logger.Debug("Response",
			slog.String("stopReason", string(resp.StopReason)),
			slog.Int("blocks", len(resp.Content)))

		for _, block := range resp.Content {
			var ct models.Content
			switch block.Type {
			case anthropic.MessagesContentTypeText:
				ct = models.Content{Type: models.ContentTypeText, Text: block.GetText()}
			case anthropic.MessagesContentTypeToolUse:
				if block.MessageContentToolUse == nil {
					continue
				}
				ct = models.Content{
					Type:       models.ContentTypeCallTool,
					ToolName:   block.MessageContentToolUse.Name,
					ToolInput:  block.MessageContentToolUse.Input,
					CallToolID: block.MessageContentToolUse.ID,
				}
			default:
				continue
			}
			if !yield(ct, nil) {
				return
			}
		}
	}
}
