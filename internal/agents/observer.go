package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is emitted every time an agent invokes one of its tools.
type Event struct {
	Agent string
	Tool  string
	Input json.RawMessage
}

// Observer receives agent events. It is called synchronously from the agent loop.
type Observer func(Event)

type observerContextKey struct{}

// ContextWithObserver returns a context that carries o. Agents running with that context, including
// agents reached through a ManagedAgent, report their tool calls to it.
func ContextWithObserver(ctx context.Context, o Observer) context.Context {
	return context.WithValue(ctx, observerContextKey{}, o)
}

func notify(ctx context.Context, e Event) {
	o, _ := ctx.Value(observerContextKey{}).(Observer)
	if o == nil {
		return
	}
	o(e)
}

// String renders the event as a short status line, e.g. `web_agent: web_search {"query":"paris"}`.
func (e Event) String() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Input); err != nil {
		buf.Reset()
		buf.Write(e.Input)
	}
	return strings.TrimSpace(fmt.Sprintf("%s: %s %s", e.Agent, e.Tool, buf.String()))
}
