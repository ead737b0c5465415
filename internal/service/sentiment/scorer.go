// Package sentiment defines the scorer that tags every utterance with a small
// integer category the client uses to pick an animation.
package sentiment

import (
	"context"
	"errors"
)

// Neutral is the tag used whenever scoring fails.
const Neutral = 0

// ErrScoring is returned when a text cannot be classified.
var ErrScoring = errors.New("sentiment scoring failed")

// Scorer classifies one utterance.
type Scorer interface {
	Score(ctx context.Context, text string) (int, error)
}
