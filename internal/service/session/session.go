package session

import (
	"time"

	"github.com/google/uuid"

	"ai-voice-relay-service/internal/persona"
)

// Session is the per-connection state.
type Session struct {
	ID        string
	Binding   string
	Persona   persona.Persona
	StartedAt time.Time

	lifecycle *Lifecycle
	// exchanges counts requests, starting from 1; drives preamble reinforcement.
	exchanges int
}

// New creates a session in IDLE state.
func New(binding string, p persona.Persona) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Binding:   binding,
		Persona:   p,
		StartedAt: time.Now(),
		lifecycle: NewLifecycle(id),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Exchanges returns how many exchanges have been started.
func (s *Session) Exchanges() int {
	return s.exchanges
}

func (s *Session) nextExchange() int {
	s.exchanges++
	return s.exchanges
}
