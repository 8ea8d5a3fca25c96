package models_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

func TestMessageText(t *testing.T) {
	msg := models.Message{
		Role: models.RoleAssistant,
		Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "Looking it up. "},
			{Type: models.ContentTypeCallTool, ToolName: "search", ToolInput: json.RawMessage(`{"query":"x"}`)},
			{Type: models.ContentTypeToolResult, ToolName: "search", ToolResult: "found"},
			{Type: models.ContentTypeText, Text: "Paris."},
		},
	}

	if got, want := msg.Text(), "Looking it up. Paris."; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestRenderContents(t *testing.T) {
	contents := []models.Content{
		{Type: models.ContentTypeText, Text: "Hello"},
		{Type: models.ContentTypeCallTool, ToolName: "web_search", ToolInput: json.RawMessage(`{"query":"paris"}`)},
		{Type: models.ContentTypeToolResult, ToolName: "web_search", ToolResult: "boom", CallToolFailed: true},
	}

	tests := []struct {
		name       string
		withDetail bool
		want       []string
		notWant    []string
	}{
		{
			name:    "Without detail",
			want:    []string{"Hello", "Calling Tool: web_search", `"query": "paris"`, "Failed:", "boom"},
			notWant: []string{"<details>"},
		},
		{
			name:       "With detail",
			withDetail: true,
			want:       []string{"<details>", "</details>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.RenderContents(contents, tt.withDetail)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("RenderContents() = %q, want to contain %q", got, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("RenderContents() = %q, should not contain %q", got, nw)
				}
			}
		})
	}
}
