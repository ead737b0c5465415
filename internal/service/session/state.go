// Package session runs one client connection: it receives requests, drives the
// engines, and streams spoken utterances back.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents where a session is in its current exchange.
type State int

const (
	// StateIdle - Waiting for the next inbound unit.
	StateIdle State = iota
	// StateReceiving - Normalizing an inbound recording.
	StateReceiving
	// StateTranscribing - Waiting on the recognizer.
	StateTranscribing
	// StateExchanging - Waiting on the backend or the segmenter.
	StateExchanging
	// StateSynthesizing - Voicing, scoring and sending one utterance.
	StateSynthesizing
	// StateClosed - Connection dropped or fatal error. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReceiving:
		return "RECEIVING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateExchanging:
		return "EXCHANGING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// transitions lists the legal moves between non-terminal states. Closed is
// reachable from anywhere and handled by Close.
var transitions = map[State][]State{
	StateIdle:         {StateReceiving, StateExchanging},
	StateReceiving:    {StateTranscribing, StateIdle},
	StateTranscribing: {StateExchanging, StateIdle},
	StateExchanging:   {StateSynthesizing, StateIdle},
	StateSynthesizing: {StateExchanging},
}

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → RECEIVING → TRANSCRIBING → EXCHANGING ⇄ SYNTHESIZING
//	  │        │             │             │
//	  │        └─────────────┴── abort ──→ IDLE ←── stream end
//	  │
//	  └── text unit ──→ EXCHANGING
//
// Any state → CLOSED on disconnect or fatal error.
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
}

// NewLifecycle creates a new session lifecycle in IDLE state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateIdle,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true once the session reached CLOSED.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Transition validates and performs a move to the given state.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrSessionClosed
	}
	for _, allowed := range transitions[l.state] {
		if allowed == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, to)
}

// Abort returns an in-flight exchange to IDLE. Returns false if the session is closed.
func (l *Lifecycle) Abort() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateIdle
	return true
}

// Close transitions the session to CLOSED state.
// Returns true if this call closed it, false if it was already closed.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}
