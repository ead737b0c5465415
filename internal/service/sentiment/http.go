package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPScorer asks a classification service for the category of a text.
type HTTPScorer struct {
	httpClient *http.Client
	url        string
}

// NewHTTPScorer creates a scorer posting to url.
func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{httpClient: &http.Client{}, url: url}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Sentiment *int `json:"sentiment"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, text string) (int, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return Neutral, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Neutral, fmt.Errorf("build sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Neutral, fmt.Errorf("%w: %v", ErrScoring, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Neutral, fmt.Errorf("%w: status=%d body=%s", ErrScoring, resp.StatusCode, string(b))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Neutral, fmt.Errorf("%w: %v", ErrScoring, err)
	}
	if sr.Sentiment == nil || *sr.Sentiment < 0 {
		return Neutral, fmt.Errorf("%w: missing or negative sentiment", ErrScoring)
	}
	return *sr.Sentiment, nil
}
