// Package chat holds the in-memory chat sessions: the transcript of a single browser session, its API key,
// and the pipeline answering its questions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/google/uuid"
)

// Pipeline answers a question. progress, when not nil, receives short status updates while the answer is
// being produced.
type Pipeline interface {
	Answer(ctx context.Context, query string, progress func(string)) (string, error)
}

// PipelineFactory builds the pipeline for an API key. It is called every time the key of a session changes,
// so that no model client outlives the key it was created with.
type PipelineFactory func(ctx context.Context, apiKey string) (Pipeline, error)

// Session is one user's conversation. Its transcript starts with the assistant greeting and only grows: a
// user message for every submission, followed by an assistant message for every answered turn.
type Session struct {
	id       string
	greeting string
	factory  PipelineFactory

	mu       sync.Mutex
	messages []models.Message
	apiKey   string
	pipeline Pipeline
	running  bool
}

// Turn is a submitted user message waiting for its answer.
type Turn struct {
	session  *Session
	query    string
	pipeline Pipeline
}

// DefaultGreeting is the assistant message seeded into every new transcript.
const DefaultGreeting = "How may I help you ?"

var (
	// ErrMissingAPIKey is returned by Submit when the session has no API key. The user message is kept in
	// the transcript and no model is called.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrTurnInProgress is returned by Submit while a previous turn of the session is still running.
	ErrTurnInProgress = errors.New("turn in progress")
)

// NewSession creates an empty session. Call Initialize to seed the greeting.
func NewSession(id, greeting string, factory PipelineFactory) *Session {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Session{
		id:       id,
		greeting: greeting,
		factory:  factory,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Initialize seeds the greeting when the transcript is empty. Calling it again has no effect.
func (s *Session) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) > 0 {
		return
	}
	s.messages = append(s.messages, s.newMessage(models.RoleAssistant, s.greeting))
}

// SetAPIKey stores key and, when it differs from the current one, rebuilds the pipeline with it. A blank
// key clears the pipeline. On factory failure the previous key and pipeline are kept.
func (s *Session) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if key == s.apiKey && (key == "" || s.pipeline != nil) {
		return nil
	}
	if key == "" {
		s.apiKey = ""
		s.pipeline = nil
		return nil
	}

	p, err := s.factory(ctx, key)
	if err != nil {
		return fmt.Errorf("error creating pipeline: %w", err)
	}
	s.apiKey = key
	s.pipeline = p
	return nil
}

// APIKeySet reports whether the session holds a non-blank API key.
func (s *Session) APIKeySet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apiKey != ""
}

// Messages returns a copy of the transcript in chronological order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.messages)
}

// Running reports whether a turn is being answered.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Submit appends text as a user message and returns the turn answering it. It returns ErrTurnInProgress,
// without touching the transcript, while another turn runs, and ErrMissingAPIKey, after appending the
// message, when the session holds no API key. The returned turn must be run exactly once.
func (s *Session) Submit(text string) (*Turn, models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, models.Message{}, ErrTurnInProgress
	}

	msg := s.newMessage(models.RoleUser, text)
	s.messages = append(s.messages, msg)

	if s.apiKey == "" || s.pipeline == nil {
		return nil, msg, ErrMissingAPIKey
	}

	s.running = true
	return &Turn{
		session:  s,
		query:    text,
		pipeline: s.pipeline,
	}, msg, nil
}

// Run answers the turn and appends the answer to the transcript. On failure the transcript is left
// unchanged and the error is returned.
func (t *Turn) Run(ctx context.Context, progress func(string)) (models.Message, error) {
	defer func() {
		t.session.mu.Lock()
		t.session.running = false
		t.session.mu.Unlock()
	}()

	answer, err := t.pipeline.Answer(ctx, t.query, progress)
	if err != nil {
		return models.Message{}, err
	}

	t.session.mu.Lock()
	defer t.session.mu.Unlock()

	msg := t.session.newMessage(models.RoleAssistant, answer)
	t.session.messages = append(t.session.messages, msg)
	return msg, nil
}

func (s *Session) newMessage(role models.Role, text string) models.Message {
	msg := models.NewTextMessage(uuid.NewString(), role, text)
	msg.Timestamp = time.Now()
	return msg
}
