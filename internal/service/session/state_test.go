package session

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
	if lc.SessionId() != "sess-1" {
		t.Errorf("expected sess-1, got %v", lc.SessionId())
	}
	if lc.IsClosed() {
		t.Error("expected IsClosed to be false")
	}
}

func TestLifecycle_AudioExchange(t *testing.T) {
	lc := NewLifecycle("sess-1")

	steps := []State{
		StateReceiving,
		StateTranscribing,
		StateExchanging,
		StateSynthesizing,
		StateExchanging,
		StateSynthesizing,
		StateExchanging,
		StateIdle,
	}
	for _, s := range steps {
		if err := lc.Transition(s); err != nil {
			t.Fatalf("transition to %v: unexpected error: %v", s, err)
		}
	}
	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
}

func TestLifecycle_TextExchangeSkipsReceiving(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if err := lc.Transition(StateExchanging); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		bad  State
	}{
		{"idle to synthesizing", nil, StateSynthesizing},
		{"idle to transcribing", nil, StateTranscribing},
		{"receiving to exchanging", []State{StateReceiving}, StateExchanging},
		{"synthesizing to idle", []State{StateExchanging, StateSynthesizing}, StateIdle},
		{"exchanging to receiving", []State{StateExchanging}, StateReceiving},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle("sess-1")
			for _, s := range tt.path {
				if err := lc.Transition(s); err != nil {
					t.Fatalf("setup transition to %v failed: %v", s, err)
				}
			}
			before := lc.State()
			if err := lc.Transition(tt.bad); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if lc.State() != before {
				t.Errorf("state changed on invalid transition: %v → %v", before, lc.State())
			}
		})
	}
}

func TestLifecycle_Abort(t *testing.T) {
	lc := NewLifecycle("sess-1")
	lc.Transition(StateReceiving)
	lc.Transition(StateTranscribing)

	if !lc.Abort() {
		t.Error("expected Abort() to return true")
	}
	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle after abort, got %v", lc.State())
	}
}

func TestLifecycle_Close_FromAnyState(t *testing.T) {
	for _, path := range [][]State{
		nil,
		{StateReceiving},
		{StateReceiving, StateTranscribing},
		{StateExchanging},
		{StateExchanging, StateSynthesizing},
	} {
		lc := NewLifecycle("sess-1")
		for _, s := range path {
			lc.Transition(s)
		}
		if !lc.Close() {
			t.Errorf("from %v: expected Close() to return true", lc.State())
		}
		if !lc.IsClosed() {
			t.Error("expected IsClosed to be true")
		}
	}
}

func TestLifecycle_Close_Idempotent(t *testing.T) {
	lc := NewLifecycle("sess-1")

	if !lc.Close() {
		t.Error("expected first Close() to return true")
	}
	if lc.Close() {
		t.Error("expected second Close() to return false")
	}
	if lc.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", lc.State())
	}
}

func TestLifecycle_OperationsFailAfterClose(t *testing.T) {
	lc := NewLifecycle("sess-1")
	lc.Close()

	if err := lc.Transition(StateReceiving); err != ErrSessionClosed {
		t.Errorf("Transition: expected ErrSessionClosed, got %v", err)
	}
	if lc.Abort() {
		t.Error("expected Abort() to return false after close")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateReceiving, "RECEIVING"},
		{StateTranscribing, "TRANSCRIBING"},
		{StateExchanging, "EXCHANGING"},
		{StateSynthesizing, "SYNTHESIZING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateIdle, StateReceiving, StateTranscribing, StateExchanging, StateSynthesizing} {
		if s.IsTerminal() {
			t.Errorf("State(%s).IsTerminal() = true, want false", s)
		}
	}
	if !StateClosed.IsTerminal() {
		t.Error("StateClosed should be terminal")
	}
}
