package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/google/uuid"
)

// FormatPrompt is the instruction sent to the model along with the raw answer.
const FormatPrompt = "Reformat the following text into bullet points. " +
	"Add URLs in a separate REFERENCES section. Do not add any additional information."

// Formatter reformats a raw agent answer into bullet points with a REFERENCES section, using a single
// completion call. The output is returned verbatim.
type Formatter struct {
	llm LLM
}

// NewFormatter creates a Formatter backed by llm.
func NewFormatter(llm LLM) Formatter {
	return Formatter{llm: llm}
}

// Format sends the instruction and raw as two text parts of one user message and returns the model's
// completion. Errors from the model are returned as is.
func (f Formatter) Format(ctx context.Context, raw string) (string, error) {
	msg := models.Message{
		ID:   uuid.New().String(),
		Role: models.RoleUser,
		Contents: []models.Content{
			{Type: models.ContentTypeText, Text: FormatPrompt},
			{Type: models.ContentTypeText, Text: raw},
		},
		Timestamp: time.Now(),
	}

	var sb strings.Builder
	for content, err := range f.llm.Chat(ctx, "", []models.Message{msg}, nil) {
		if err != nil {
			return "", fmt.Errorf("error formatting answer: %w", err)
		}
		if content.Type == models.ContentTypeText {
			sb.WriteString(content.Text)
		}
	}
	return sb.String(), nil
}
