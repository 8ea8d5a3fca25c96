package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message represents an individual communication entry within a chat or an agent's memory. A transcript
// message carries a single text content; an agent's working message accumulates text, tool calls and
// tool results in the order they happened.
type Message struct {
	ID        string
	Role      Role
	Contents  []Content
	Timestamp time.Time
}

// Content is a message content with its type.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// ToolName would be filled if Type is ContentTypeCallTool or ContentTypeToolResult.
	ToolName string
	// ToolInput would be filled if Type is ContentTypeCallTool.
	ToolInput json.RawMessage

	// ToolResult would be filled if Type is ContentTypeToolResult. The value would be either tool result or error.
	ToolResult string

	// CallToolID would be filled if Type is ContentTypeCallTool or ContentTypeToolResult.
	CallToolID string
	// CallToolFailed is a flag indicating if the call tool failed.
	// This flag would be set to true if the call tool failed and Type is ContentTypeToolResult.
	CallToolFailed bool

	// ThoughtSignature is the opaque signature some providers attach to a tool call of a thinking model. It
	// must be sent back unchanged with that call.
	ThoughtSignature []byte
}

// Tool describes a callable capability offered to a language model. InputSchema is a JSON Schema
// object describing the arguments.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Role represents the role of a message participant.
type Role string

// ContentType represents the type of content in messages.
type ContentType string

const (
	// RoleUser represents a user message. A message with this role would only contain text content.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message. A message with this role would contain text content
	// and potentially other types of content.
	RoleAssistant Role = "assistant"

	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeCallTool represents a call to a tool.
	ContentTypeCallTool ContentType = "call_tool"
	// ContentTypeToolResult represents the result of a tool call.
	ContentTypeToolResult ContentType = "tool_result"
)

// NewTextMessage builds a message with a single text content.
func NewTextMessage(id string, role Role, text string) Message {
	return Message{
		ID:   id,
		Role: role,
		Contents: []Content{
			{
				Type: ContentTypeText,
				Text: text,
			},
		},
		Timestamp: time.Now(),
	}
}

// Text concatenates the text contents of the message, ignoring tool activity.
func (m Message) Text() string {
	var sb strings.Builder
	for _, ct := range m.Contents {
		if ct.Type == ContentTypeText {
			sb.WriteString(ct.Text)
		}
	}
	return sb.String()
}

// RenderContents renders a slice of Content into a markdown string. If withDetail is true, it will render
// the contents of call tools input and result wrapped with <details> tags.
func RenderContents(contents []Content, withDetail bool) string {
	var sb strings.Builder
	for _, content := range contents {
		switch content.Type {
		case ContentTypeText:
			if content.Text == "" {
				continue
			}
			sb.WriteString(content.Text)
		case ContentTypeCallTool:
			sb.WriteString("  \n\n")
			sb.WriteString(fmt.Sprintf("Calling Tool: %s  \n", content.ToolName))
			if withDetail {
				sb.WriteString("<details>  \n\n")
			}
			sb.WriteString("Input:  \n")

			var prettyJSON bytes.Buffer
			input := string(content.ToolInput)
			if err := json.Indent(&prettyJSON, content.ToolInput, "", "  "); err == nil {
				input = prettyJSON.String()
			}

			sb.WriteString(fmt.Sprintf("```json  \n%s  \n```  \n", input))
		case ContentTypeToolResult:
			sb.WriteString("  \n\n")
			if content.CallToolFailed {
				sb.WriteString("Failed:  \n")
			} else {
				sb.WriteString("Result:  \n")
			}
			sb.WriteString(fmt.Sprintf("```  \n%s  \n```  \n", content.ToolResult))
			if withDetail {
				sb.WriteString("</details>  \n")
			}
		}
	}
	return sb.String()
}
