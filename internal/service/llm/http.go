package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"ai-voice-relay-service/internal/service/segment"
)

const defaultBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// HTTPConfig configures an HTTPBackend.
type HTTPConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	// SystemPrompt opens every remembered conversation. A stateless backend never
	// gets it; the caller reinforces the persona in the query text instead.
	SystemPrompt string
	// Remember keeps the conversation so far and resends it with every query.
	// Without it the backend is stateless and sees each query alone.
	Remember bool
}

// HTTPBackend talks to an OpenAI-compatible chat completions endpoint.
type HTTPBackend struct {
	HTTPClient *http.Client
	cfg        HTTPConfig

	mu      sync.Mutex
	history []chatMessage
}

// NewHTTPBackend creates a backend. Engine calls carry no timeout of their own;
// the caller's context bounds them.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPBackend{
		HTTPClient: &http.Client{},
		cfg:        cfg,
	}
}

func (b *HTTPBackend) messages(text string) []chatMessage {
	var msgs []chatMessage
	if b.cfg.Remember {
		if b.cfg.SystemPrompt != "" {
			msgs = append(msgs, chatMessage{Role: "system", Content: b.cfg.SystemPrompt})
		}
		b.mu.Lock()
		msgs = append(msgs, b.history...)
		b.mu.Unlock()
	}
	return append(msgs, chatMessage{Role: "user", Content: text})
}

func (b *HTTPBackend) remember(query, reply string) {
	if !b.cfg.Remember || reply == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history,
		chatMessage{Role: "user", Content: query},
		chatMessage{Role: "assistant", Content: reply},
	)
}

func (b *HTTPBackend) do(ctx context.Context, text string, stream bool) (*http.Response, error) {
	reqBody, err := json.Marshal(chatCompletionsRequest{Model: b.cfg.Model, Messages: b.messages(text), Stream: stream})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstreamProtocol, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Ask implements Backend.
func (b *HTTPBackend) Ask(ctx context.Context, text string) (string, error) {
	resp, err := b.do(ctx, text, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamProtocol, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUpstreamProtocol)
	}
	answer := strings.TrimSpace(cr.Choices[0].Message.Content)
	b.remember(text, answer)
	return answer, nil
}

// AskStream implements Backend using server-sent events.
func (b *HTTPBackend) AskStream(ctx context.Context, text string) (segment.FragmentStream, error) {
	resp, err := b.do(ctx, text, true)
	if err != nil {
		return nil, err
	}
	return &sseStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		onDone:  func(reply string) { b.remember(text, reply) },
	}, nil
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	reply   strings.Builder
	onDone  func(string)
	done    bool
}

func (s *sseStream) Next(ctx context.Context) (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.finish()
			return "", io.EOF
		}

		var chunk chatCompletionsResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.Close()
			return "", fmt.Errorf("%w: %v", ErrUpstreamProtocol, err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		frag := chunk.Choices[0].Delta.Content
		s.reply.WriteString(frag)
		return frag, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.Close()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
	}
	// body ended without [DONE]; keep what arrived
	log.Debug().Msg("Backend stream ended without DONE marker")
	s.finish()
	return "", io.EOF
}

func (s *sseStream) finish() {
	s.Close()
	if s.onDone != nil {
		s.onDone(s.reply.String())
	}
}

// Close releases the response body. Safe to call more than once.
func (s *sseStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.body.Close()
	if errors.Is(err, http.ErrBodyReadAfterClose) {
		return nil
	}
	return err
}
