// Package mock provides a recognizer for running without cloud credentials.
// It checks that the recording exists and answers with canned transcripts.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"ai-voice-relay-service/internal/service/stt"
)

// DefaultTranscripts are cycled through when no fixed text is configured.
var DefaultTranscripts = []string{
	"你好，你是谁？",
	"今天天气怎么样？",
	"给我讲个笑话吧。",
	"谢谢你，再见。",
}

// Recognizer implements stt.Recognizer with canned responses.
type Recognizer struct {
	mu    sync.Mutex
	fixed string
	next  int
	calls int
}

// New creates a mock recognizer. A non-empty text is returned for every call.
func New(text string) *Recognizer {
	return &Recognizer{fixed: text}
}

// Transcribe returns the next canned transcript.
func (r *Recognizer) Transcribe(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", stt.ErrRecognition, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: empty recording", stt.ErrRecognition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fixed != "" {
		return r.fixed, nil
	}
	text := DefaultTranscripts[r.next%len(DefaultTranscripts)]
	r.next++
	return text, nil
}

// Calls reports how many recordings were transcribed.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
