package services

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"google.golang.org/genai"
)

// Gemini provides an implementation of the LLM interface for Google's Gemini models through the Gemini API.
type Gemini struct {
	model string

	params LLMParameters

	client *genai.Client

	logger *slog.Logger
}

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// NewGemini creates a new Gemini instance for model, authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey, model string, params LLMParameters, logger *slog.Logger) (Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return Gemini{}, fmt.Errorf("error creating gemini client: %w", err)
	}
	return Gemini{
		model:  model,
		params: params,
		client: client,
		logger: logger.With(slog.String("module", "gemini")),
	}, nil
}

// Chat streams a completion from the Gemini API. Text parts are yielded as they arrive; function calls are
// yielded as call tool contents. Thought parts are skipped.
func (g Gemini) Chat(
	ctx context.Context,
	systemPrompt string,
	messages []models.Message,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		contents, err := geminiContents(messages)
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error creating gemini contents: %w", err))
			return
		}

		cfg := g.generateConfig(systemPrompt, tools)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for res, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				yield(models.Content{}, fmt.Errorf("error receiving response: %w", err))
				return
			}
			if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
				continue
			}

			for _, part := range res.Candidates[0].Content.Parts {
				ct, ok, err := geminiPartContent(part)
				if err != nil {
					yield(models.Content{}, err)
					return
				}
				if !ok {
					continue
				}
				if ct.Type == models.ContentTypeCallTool {
					g.logger.Debug("Call Tool",
						slog.String("name", ct.ToolName),
						slog.String("args", string(ct.ToolInput)))
				}
				if !yield(ct, nil) {
					return
				}
			}
		}
	}
}

func (g Gemini) generateConfig(systemPrompt string, tools []models.Tool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      g.params.Temperature,
		TopP:             g.params.TopP,
		StopSequences:    g.params.Stop,
		PresencePenalty:  g.params.PresencePenalty,
		FrequencyPenalty: g.params.FrequencyPenalty,
	}
	if g.params.Seed != nil {
		seed := int32(*g.params.Seed)
		cfg.Seed = &seed
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// geminiContents converts messages to genai contents. Text and tool calls of an assistant message belong to
// the model, while tool results are sent back by the user as function responses.
func geminiContents(messages []models.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	appendPart := func(role string, part *genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}

	for _, msg := range messages {
		for _, ct := range msg.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text == "" {
					continue
				}
				role := geminiRoleModel
				if msg.Role == models.RoleUser {
					role = geminiRoleUser
				}
				appendPart(role, &genai.Part{Text: ct.Text})
			case models.ContentTypeCallTool:
				args, err := toolArguments(ct.ToolInput)
				if err != nil {
					return nil, err
				}
				appendPart(geminiRoleModel, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   ct.CallToolID,
						Name: ct.ToolName,
						Args: args,
					},
					ThoughtSignature: ct.ThoughtSignature,
				})
			case models.ContentTypeToolResult:
				key := "output"
				if ct.CallToolFailed {
					key = "error"
				}
				appendPart(geminiRoleUser, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       ct.CallToolID,
						Name:     ct.ToolName,
						Response: map[string]any{key: ct.ToolResult},
					},
				})
			}
		}
	}
	return contents, nil
}

func geminiPartContent(part *genai.Part) (models.Content, bool, error) {
	switch {
	case part == nil || part.Thought:
		return models.Content{}, false, nil
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return models.Content{}, false, fmt.Errorf("error marshaling function call args: %w", err)
		}
		if part.FunctionCall.Args == nil {
			args = json.RawMessage("{}")
		}
		return models.Content{
			Type:       models.ContentTypeCallTool,
			ToolName:   part.FunctionCall.Name,
			ToolInput:  args,
			CallToolID: part.FunctionCall.ID,

			ThoughtSignature: part.ThoughtSignature,
		}, true, nil
	case part.Text != "":
		return models.Content{Type: models.ContentTypeText, Text: part.Text}, true, nil
	default:
		return models.Content{}, false, nil
	}
}
