// Package segment turns a backend reply, streamed or whole, into utterances that
// can be synthesized one at a time.
package segment

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"
)

// boundaries are the sentence-ending markers that close an utterance.
const boundaries = "。！？\n"

// minUtteranceRunes is the accumulator length a boundary must exceed to emit.
const minUtteranceRunes = 3

// FragmentStream is a lazily produced sequence of reply text fragments.
// Next returns io.EOF once the reply is complete.
type FragmentStream interface {
	Next(ctx context.Context) (string, error)
}

// Utterance is one naturally bounded run of reply text.
type Utterance struct {
	Index int
	Text  string
}

// Segmenter groups fragments into utterances. Not safe for concurrent use.
type Segmenter struct {
	src   FragmentStream
	acc   strings.Builder
	count int
	done  bool
}

// New creates a Segmenter over src.
func New(src FragmentStream) *Segmenter {
	return &Segmenter{src: src}
}

// Next returns the next utterance, or io.EOF when the reply is exhausted.
// Any other error from the fragment stream is returned unchanged.
func (s *Segmenter) Next(ctx context.Context) (Utterance, error) {
	for !s.done {
		frag, err := s.src.Next(ctx)
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return Utterance{}, err
		}

		long := utf8.RuneCountInString(s.acc.String()) > minUtteranceRunes
		s.acc.WriteString(frag)
		if long && strings.ContainsAny(frag, boundaries) {
			if u, ok := s.flush(); ok {
				return u, nil
			}
		}
	}

	if u, ok := s.flush(); ok {
		return u, nil
	}
	return Utterance{}, io.EOF
}

func (s *Segmenter) flush() (Utterance, bool) {
	text := strings.TrimSpace(s.acc.String())
	s.acc.Reset()
	if text == "" {
		return Utterance{}, false
	}
	u := Utterance{Index: s.count, Text: text}
	s.count++
	return u, true
}

// Collect drains the segmenter. Mostly useful for tests and single-shot callers.
func Collect(ctx context.Context, s *Segmenter) ([]Utterance, error) {
	var out []Utterance
	for {
		u, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, u)
	}
}

type runeStream struct {
	rest string
}

// SingleShot presents a complete reply as a rune-by-rune fragment stream, so the
// segmenter splits it on every boundary past the length floor.
func SingleShot(text string) FragmentStream {
	return &runeStream{rest: text}
}

func (r *runeStream) Next(ctx context.Context) (string, error) {
	if r.rest == "" {
		return "", io.EOF
	}
	_, size := utf8.DecodeRuneInString(r.rest)
	frag := r.rest[:size]
	r.rest = r.rest[size:]
	return frag, nil
}

// Slice replays fixed fragments.
type Slice []string

func (s *Slice) Next(ctx context.Context) (string, error) {
	if len(*s) == 0 {
		return "", io.EOF
	}
	frag := (*s)[0]
	*s = (*s)[1:]
	return frag, nil
}

type deltaStream struct {
	src  FragmentStream
	last string
}

// Deltas adapts a backend that resends the whole reply so far with every event
// into a stream of increments.
func Deltas(src FragmentStream) FragmentStream {
	return &deltaStream{src: src}
}

func (d *deltaStream) Next(ctx context.Context) (string, error) {
	for {
		snapshot, err := d.src.Next(ctx)
		if err != nil {
			return "", err
		}
		var delta string
		if strings.HasPrefix(snapshot, d.last) {
			delta = snapshot[len(d.last):]
		} else {
			// backend rewrote its reply; pass the snapshot on whole
			delta = snapshot
		}
		d.last = snapshot
		if delta != "" {
			return delta, nil
		}
	}
}
