package session

import (
	"context"
	"io"
	"sync"

	"ai-voice-relay-service/internal/service/llm"
	"ai-voice-relay-service/internal/service/segment"
	"ai-voice-relay-service/internal/service/sentiment"
	"ai-voice-relay-service/internal/service/stt"
	"ai-voice-relay-service/internal/service/tts"
)

// Engines are the four external engines a session calls. They are shared by
// every session of the process.
type Engines struct {
	Recognizer  stt.Recognizer
	Backend     llm.Backend
	Synthesizer tts.Synthesizer
	Scorer      sentiment.Scorer
}

// Serialized guards each engine with its own mutex, for engines that cannot
// serve two sessions at once. A streamed backend reply holds the backend lock
// until the stream ends or is closed.
func Serialized(e Engines) Engines {
	return Engines{
		Recognizer:  &lockedRecognizer{inner: e.Recognizer},
		Backend:     &lockedBackend{inner: e.Backend},
		Synthesizer: &lockedSynthesizer{inner: e.Synthesizer},
		Scorer:      &lockedScorer{inner: e.Scorer},
	}
}

type lockedRecognizer struct {
	mu    sync.Mutex
	inner stt.Recognizer
}

func (l *lockedRecognizer) Transcribe(ctx context.Context, path string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Transcribe(ctx, path)
}

type lockedSynthesizer struct {
	mu    sync.Mutex
	inner tts.Synthesizer
}

func (l *lockedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Synthesize(ctx, text)
}

type lockedScorer struct {
	mu    sync.Mutex
	inner sentiment.Scorer
}

func (l *lockedScorer) Score(ctx context.Context, text string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Score(ctx, text)
}

type lockedBackend struct {
	mu    sync.Mutex
	inner llm.Backend
}

func (l *lockedBackend) Ask(ctx context.Context, text string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Ask(ctx, text)
}

func (l *lockedBackend) AskStream(ctx context.Context, text string) (segment.FragmentStream, error) {
	l.mu.Lock()
	s, err := l.inner.AskStream(ctx, text)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	return &lockedStream{inner: s, unlock: l.mu.Unlock}, nil
}

// lockedStream releases the backend lock exactly once, when the stream finishes
// or is closed.
type lockedStream struct {
	inner  segment.FragmentStream
	once   sync.Once
	unlock func()
}

func (s *lockedStream) Next(ctx context.Context) (string, error) {
	frag, err := s.inner.Next(ctx)
	if err != nil {
		s.release()
	}
	return frag, err
}

func (s *lockedStream) Close() error {
	var err error
	if c, ok := s.inner.(io.Closer); ok {
		err = c.Close()
	}
	s.release()
	return err
}

func (s *lockedStream) release() {
	s.once.Do(s.unlock)
}
