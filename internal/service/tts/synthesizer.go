// Package tts defines the speech synthesizer used for every outbound utterance.
package tts

import (
	"context"
	"errors"
)

// ErrSynthesis is returned when an utterance cannot be voiced.
var ErrSynthesis = errors.New("speech synthesis failed")

// Voice selects the persona's voice model.
type Voice struct {
	Model  string  `json:"model"`
	Config string  `json:"config"`
	Speed  float64 `json:"speed"`
}

// Synthesizer turns one utterance into audio bytes (a WAV container).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
