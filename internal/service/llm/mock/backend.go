// Package mock provides a scripted conversational backend for local runs and tests.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"ai-voice-relay-service/internal/service/segment"
)

// Backend answers every query with a scripted reply, streamed in small pieces.
type Backend struct {
	// Reply, when set, is returned for every query. Otherwise the query is echoed.
	Reply string
	// Err, when set, is returned by Ask and AskStream.
	Err error
	// StreamErr is raised by the stream after its fragments are exhausted.
	StreamErr error
	// FragmentRunes is the number of runes per streamed fragment. Defaults to 2.
	FragmentRunes int
	// Cumulative makes the stream emit the whole reply so far with every fragment.
	Cumulative bool

	mu      sync.Mutex
	queries []string
}

// New creates an echoing mock backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) reply(text string) string {
	b.mu.Lock()
	b.queries = append(b.queries, text)
	b.mu.Unlock()
	if b.Reply != "" {
		return b.Reply
	}
	return fmt.Sprintf("你刚才说的是：%s。我听到了！", text)
}

// Queries returns every text the backend was asked, in order.
func (b *Backend) Queries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.queries...)
}

// Ask implements llm.Backend.
func (b *Backend) Ask(ctx context.Context, text string) (string, error) {
	if b.Err != nil {
		return "", b.Err
	}
	return b.reply(text), nil
}

// AskStream implements llm.Backend.
func (b *Backend) AskStream(ctx context.Context, text string) (segment.FragmentStream, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	n := b.FragmentRunes
	if n <= 0 {
		n = 2
	}
	return &stream{frags: split(b.reply(text), n), cumulative: b.Cumulative, err: b.StreamErr}, nil
}

func split(s string, n int) []string {
	var out []string
	for len(s) > 0 {
		i, count := 0, 0
		for i < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			count++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}

type stream struct {
	frags      []string
	sent       string
	cumulative bool
	err        error
}

func (s *stream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.frags) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	frag := s.frags[0]
	s.frags = s.frags[1:]
	s.sent += frag
	if s.cumulative {
		return s.sent, nil
	}
	return frag, nil
}
