package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

// ManagedAgent wraps an Agent as a named, described Tool, so another agent can delegate sub-tasks to it.
type ManagedAgent struct {
	agent       *Agent
	name        string
	description string
}

type managedAgentInput struct {
	Query string `json:"query"`
}

const managedTaskPrompt = `You are a helpful agent named '%s'.
Your manager has handed you the following task.
---
Task:
%s
---
Your answer helps your manager solve a wider task, so do not give a one-line answer: give as much
information as you can so they get a clear understanding of the answer.

Your final answer must contain these parts:
### 1. Task outcome (short version):
### 2. Task outcome (extremely detailed version):
### 3. Additional context (if relevant):

Include the URLs of every source you used. Even if you could not solve the task, return as much context
as possible so your manager can act upon it.`

var managedAgentSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Your query or task for this agent, in natural language."}
  },
  "required": ["query"]
}`)

// NewManagedAgent wraps agent under name with a description telling the caller what it does.
func NewManagedAgent(agent *Agent, name, description string) ManagedAgent {
	return ManagedAgent{
		agent:       agent,
		name:        name,
		description: description,
	}
}

// Definition implements Tool.
func (m ManagedAgent) Definition() models.Tool {
	return models.Tool{
		Name:        m.name,
		Description: m.description,
		InputSchema: managedAgentSchema,
	}
}

// Call implements Tool by running the wrapped agent on the delegated task. Failures of the wrapped agent
// abort the caller's run.
func (m ManagedAgent) Call(ctx context.Context, input json.RawMessage) (string, error) {
	var in managedAgentInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", &ToolError{Message: fmt.Sprintf("invalid arguments: %s", err)}
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", &ToolError{Message: "query is required"}
	}

	out, err := m.agent.Run(ctx, fmt.Sprintf(managedTaskPrompt, m.name, in.Query))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Here is the final answer from your managed agent '%s':\n%s", m.name, out), nil
}
