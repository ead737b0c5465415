// Package mock provides a synthesizer that renders a short tone per utterance.
package mock

import (
	"context"
	"math"
	"sync"
	"unicode/utf8"

	"ai-voice-relay-service/internal/service/audio"
)

const (
	sampleRate     = 16000
	samplesPerRune = sampleRate / 10
)

// Synthesizer implements tts.Synthesizer without a voice model. The tone length
// follows the text length so clients can tell utterances apart by ear.
type Synthesizer struct {
	// Fail, when it returns an error for a text, makes that utterance fail.
	Fail func(text string) error

	mu    sync.Mutex
	texts []string
}

// New creates a mock synthesizer.
func New() *Synthesizer {
	return &Synthesizer{}
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail(text); err != nil {
			return nil, err
		}
	}
	return Render(utf8.RuneCountInString(text) * samplesPerRune)
}

// Texts returns every text synthesized so far.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Render synthesizes n samples of a quiet 440 Hz sine as a 16-bit mono WAV.
func Render(n int) ([]byte, error) {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.2 * math.Sin(2*math.Pi*440*float64(i)/sampleRate)
	}
	return audio.EncodeMono(samples, sampleRate)
}

// Tone is Render for fixtures; it panics if the WAV cannot be staged.
func Tone(n int) []byte {
	b, err := Render(n)
	if err != nil {
		panic(err)
	}
	return b
}
