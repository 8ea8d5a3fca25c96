package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/MegaGrindStone/websearch-chat/internal/chat"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

type mockPipeline struct {
	key     string
	answers []string
	err     error

	mu    sync.Mutex
	calls []string
	block chan struct{}
}

type mockFactory struct {
	err   error
	keys  []string
	built []*mockPipeline
}

func (p *mockPipeline) Answer(_ context.Context, query string, progress func(string)) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, query)
	n := len(p.calls)
	p.mu.Unlock()

	if p.block != nil {
		<-p.block
	}
	if progress != nil {
		progress("Searching")
	}
	if p.err != nil {
		return "", p.err
	}
	if n <= len(p.answers) {
		return p.answers[n-1], nil
	}
	return fmt.Sprintf("answer %d\n\nREFERENCES\n- https://example.com", n), nil
}

func (f *mockFactory) build(_ context.Context, apiKey string) (chat.Pipeline, error) {
	f.keys = append(f.keys, apiKey)
	if f.err != nil {
		return nil, f.err
	}
	p := &mockPipeline{key: apiKey}
	f.built = append(f.built, p)
	return p, nil
}

func TestSessionInitialize(t *testing.T) {
	s := chat.NewSession("id", "", (&mockFactory{}).build)
	s.Initialize()
	s.Initialize()

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Messages() = %d, want 1", len(msgs))
	}
	if msgs[0].Role != models.RoleAssistant || msgs[0].Text() != chat.DefaultGreeting {
		t.Errorf("greeting = %+v", msgs[0])
	}
}

func TestSessionMissingAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "never set", key: ""},
		{name: "blank", key: ""},
		{name: "whitespace", key: "  \t\n "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFactory{}
			s := chat.NewSession("id", "hi", f.build)
			s.Initialize()
			if tt.name != "never set" {
				if err := s.SetAPIKey(context.Background(), tt.key); err != nil {
					t.Fatalf("SetAPIKey() error = %v", err)
				}
			}

			turn, msg, err := s.Submit("What is the capital of France?")
			if !errors.Is(err, chat.ErrMissingAPIKey) {
				t.Fatalf("Submit() error = %v, want ErrMissingAPIKey", err)
			}
			if turn != nil {
				t.Error("Submit() returned a turn without an API key")
			}
			if msg.Text() != "What is the capital of France?" {
				t.Errorf("Submit() message = %+v", msg)
			}
			if len(f.keys) != 0 {
				t.Errorf("factory called with %q", f.keys)
			}
			if s.APIKeySet() {
				t.Error("APIKeySet() = true")
			}

			msgs := s.Messages()
			if len(msgs) != 2 || msgs[1].Role != models.RoleUser {
				t.Errorf("transcript = %+v, want greeting and user message", msgs)
			}
			if s.Running() {
				t.Error("Running() = true after a rejected submission")
			}
		})
	}
}

func TestSessionTurns(t *testing.T) {
	f := &mockFactory{}
	s := chat.NewSession("id", "hi", f.build)
	s.Initialize()
	if err := s.SetAPIKey(context.Background(), " key-1 "); err != nil {
		t.Fatalf("SetAPIKey() error = %v", err)
	}
	if len(f.keys) != 1 || f.keys[0] != "key-1" {
		t.Fatalf("factory keys = %q, want trimmed key", f.keys)
	}

	const turns = 3
	for i := range turns {
		query := fmt.Sprintf("question %d", i)
		turn, _, err := s.Submit(query)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		var progress []string
		msg, err := turn.Run(context.Background(), func(p string) { progress = append(progress, p) })
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if msg.Role != models.RoleAssistant || msg.Text() == "" {
			t.Errorf("Run() message = %+v", msg)
		}
		if len(progress) == 0 {
			t.Error("Run() reported no progress")
		}
	}

	msgs := s.Messages()
	if len(msgs) != 1+2*turns {
		t.Fatalf("transcript length = %d, want %d", len(msgs), 1+2*turns)
	}
	for i, msg := range msgs[1:] {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		if msg.Role != want {
			t.Errorf("message %d role = %s, want %s", i+1, msg.Role, want)
		}
		if i > 0 && msg.Timestamp.Before(msgs[i].Timestamp) {
			t.Errorf("message %d is older than its predecessor", i+1)
		}
	}
	if got := f.built[0].calls; len(got) != turns || got[0] != "question 0" {
		t.Errorf("pipeline calls = %q", got)
	}
}

func TestSessionTurnInProgress(t *testing.T) {
	f := &mockFactory{}
	s := chat.NewSession("id", "hi", f.build)
	s.Initialize()
	if err := s.SetAPIKey(context.Background(), "key"); err != nil {
		t.Fatal(err)
	}
	block := make(chan struct{})
	f.built[0].block = block

	turn, _, err := s.Submit("first")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	done := make(chan error)
	go func() {
		_, err := turn.Run(context.Background(), nil)
		done <- err
	}()

	if _, _, err := s.Submit("second"); !errors.Is(err, chat.ErrTurnInProgress) {
		t.Errorf("Submit() error = %v, want ErrTurnInProgress", err)
	}
	if !s.Running() {
		t.Error("Running() = false while a turn runs")
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Running() {
		t.Error("Running() = true after the turn finished")
	}
	if len(s.Messages()) != 3 {
		t.Errorf("transcript length = %d, want 3", len(s.Messages()))
	}
}

func TestSessionTurnFailure(t *testing.T) {
	f := &mockFactory{}
	s := chat.NewSession("id", "hi", f.build)
	s.Initialize()
	if err := s.SetAPIKey(context.Background(), "key"); err != nil {
		t.Fatal(err)
	}
	f.built[0].err = errors.New("upstream unavailable")

	turn, _, err := s.Submit("question")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := turn.Run(context.Background(), nil); err == nil {
		t.Fatal("Run() error = nil, want upstream error")
	}

	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].Role != models.RoleUser {
		t.Errorf("transcript = %+v, want no assistant message", msgs)
	}
	if s.Running() {
		t.Error("Running() = true after a failed turn")
	}
}

func TestSessionSetAPIKey(t *testing.T) {
	f := &mockFactory{}
	s := chat.NewSession("id", "hi", f.build)

	ctx := context.Background()
	for _, key := range []string{"key-1", "key-1", "key-2", "", "key-2"} {
		if err := s.SetAPIKey(ctx, key); err != nil {
			t.Fatalf("SetAPIKey(%q) error = %v", key, err)
		}
	}
	want := []string{"key-1", "key-2", "key-2"}
	if fmt.Sprint(f.keys) != fmt.Sprint(want) {
		t.Errorf("factory keys = %q, want %q", f.keys, want)
	}

	f.err = errors.New("bad key")
	if err := s.SetAPIKey(ctx, "key-3"); err == nil {
		t.Error("SetAPIKey() error = nil, want factory error")
	}
	if !s.APIKeySet() {
		t.Error("APIKeySet() = false, previous key should be kept")
	}
}

func TestSessions(t *testing.T) {
	reg := chat.NewSessions("hello", (&mockFactory{}).build)

	if _, ok := reg.Get("unknown"); ok {
		t.Error("Get() found an unknown session")
	}

	s := reg.Create()
	if got, ok := reg.Get(s.ID()); !ok || got != s {
		t.Errorf("Get(%q) = %v, %v", s.ID(), got, ok)
	}
	if msgs := s.Messages(); len(msgs) != 1 || msgs[0].Text() != "hello" {
		t.Errorf("new session transcript = %+v", msgs)
	}

	if got := reg.GetOrCreate(s.ID()); got != s {
		t.Error("GetOrCreate() returned another session for a known id")
	}
	if got := reg.GetOrCreate("unknown"); got == s || got.ID() == "unknown" {
		t.Error("GetOrCreate() should create a fresh session with a random id")
	}
}
