package mock

import (
	"context"
	"errors"
	"testing"

	"ai-voice-relay-service/internal/service/sentiment"
)

func TestScorer(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"哈哈，太好了", Happy},
		{"我今天很开心", Happy},
		{"对不起，我不知道", Sad},
		{"你说什么？", Confused},
		{"今天是星期一。", sentiment.Neutral},
	}
	s := New()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := s.Score(context.Background(), tt.text)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Score(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestScorer_Err(t *testing.T) {
	s := &Scorer{Err: sentiment.ErrScoring}
	got, err := s.Score(context.Background(), "哈哈")
	if !errors.Is(err, sentiment.ErrScoring) || got != sentiment.Neutral {
		t.Errorf("got %d, %v", got, err)
	}
}
