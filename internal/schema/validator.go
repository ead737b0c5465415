// Package schema validates session events before they are published.
package schema

import (
	"errors"
	"fmt"

	"ai-voice-relay-service/internal/models"
)

var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a known event type.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.ExchangeCompleted:
		if ev.EventType != models.EventExchangeCompleted {
			return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, ev.EventType)
		}
		if ev.SessionID == "" {
			return fmt.Errorf("%w: missing sessionId", ErrInvalidEvent)
		}
		if ev.Exchange <= 0 {
			return fmt.Errorf("%w: exchange must be positive", ErrInvalidEvent)
		}
		switch ev.Outcome {
		case models.OutcomeCompleted, models.OutcomeCanned, models.OutcomeAborted:
		default:
			return fmt.Errorf("%w: outcome %q", ErrInvalidEvent, ev.Outcome)
		}
	case models.UtteranceSent:
		if ev.EventType != models.EventUtteranceSent {
			return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, ev.EventType)
		}
		if ev.SessionID == "" {
			return fmt.Errorf("%w: missing sessionId", ErrInvalidEvent)
		}
		if ev.Text == "" {
			return fmt.Errorf("%w: empty utterance text", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
	return nil
}
