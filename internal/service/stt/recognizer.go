// Package stt defines the interface for speech recognizers.
package stt

import (
	"context"
	"errors"
)

// ErrRecognition is returned when a recording cannot be turned into text.
var ErrRecognition = errors.New("speech recognition failed")

// Recognizer transcribes one normalized recording (16 kHz mono WAV on disk).
type Recognizer interface {
	Transcribe(ctx context.Context, path string) (string, error)
}
