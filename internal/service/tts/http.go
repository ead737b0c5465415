package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// HTTPSynthesizer calls a synthesis service that answers either with raw audio or
// with JSON carrying base64 "audioContent".
type HTTPSynthesizer struct {
	httpClient *http.Client
	url        string
	apiKey     string
	voice      Voice
}

// NewHTTPSynthesizer creates a synthesizer for one persona voice.
func NewHTTPSynthesizer(url, apiKey string, voice Voice) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		httpClient: &http.Client{},
		url:        url,
		apiKey:     apiKey,
		voice:      voice,
	}
}

type synthesizeRequest struct {
	Text   string  `json:"text"`
	Model  string  `json:"model,omitempty"`
	Config string  `json:"config,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize implements Synthesizer.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(synthesizeRequest{
		Text:   text,
		Model:  s.voice.Model,
		Config: s.voice.Config,
		Speed:  s.voice.Speed,
	}); err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSynthesis, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrSynthesis, resp.StatusCode, string(body))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if len(body) == 0 {
			return nil, fmt.Errorf("%w: empty audio", ErrSynthesis)
		}
		return body, nil
	}

	var sr synthesizeResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSynthesis, err)
	}
	audio, err := base64.StdEncoding.DecodeString(sr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("%w: decode audio: %v", ErrSynthesis, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}
	return audio, nil
}
