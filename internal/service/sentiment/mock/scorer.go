// Package mock provides a keyword-based sentiment scorer.
package mock

import (
	"context"
	"strings"

	"ai-voice-relay-service/internal/service/sentiment"
)

// Categories produced by the keyword scorer.
const (
	Confused = 1
	Happy    = 2
	Sad      = 3
)

// Scorer implements sentiment.Scorer with a few keywords.
type Scorer struct {
	// Err, when set, is returned for every text.
	Err error
}

// New creates a keyword scorer.
func New() *Scorer {
	return &Scorer{}
}

// Score implements sentiment.Scorer.
func (s *Scorer) Score(ctx context.Context, text string) (int, error) {
	if s.Err != nil {
		return sentiment.Neutral, s.Err
	}
	switch {
	case strings.ContainsAny(text, "哈😀") || strings.Contains(text, "开心"):
		return Happy, nil
	case strings.Contains(text, "难过") || strings.Contains(text, "对不起"):
		return Sad, nil
	case strings.ContainsAny(text, "？?"):
		return Confused, nil
	default:
		return sentiment.Neutral, nil
	}
}
