package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Sessions is the in-memory registry of chat sessions, keyed by session ID. Sessions live as long as the
// process.
type Sessions struct {
	greeting string
	factory  PipelineFactory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry. Every session it creates greets with greeting and builds its
// pipeline with factory.
func NewSessions(greeting string, factory PipelineFactory) *Sessions {
	return &Sessions{
		greeting: greeting,
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session with id, if any.
func (s *Sessions) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// Create registers a new initialized session under a random ID.
func (s *Sessions) Create() *Session {
	sess := NewSession(uuid.NewString(), s.greeting, s.factory)
	sess.Initialize()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID()] = sess
	return sess
}

// GetOrCreate returns the session with id, or a new one when id is unknown.
func (s *Sessions) GetOrCreate(id string) *Session {
	if sess, ok := s.Get(id); ok {
		return sess
	}
	return s.Create()
}
