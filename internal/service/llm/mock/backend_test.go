package mock

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"ai-voice-relay-service/internal/service/llm"
)

func drain(t *testing.T, b *Backend, text string) ([]string, error) {
	t.Helper()
	s, err := b.AskStream(context.Background(), text)
	if err != nil {
		return nil, err
	}
	var out []string
	for {
		frag, err := s.Next(context.Background())
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frag)
	}
}

func TestBackend_StreamsFragments(t *testing.T) {
	b := &Backend{Reply: "你好世界。", FragmentRunes: 2}
	got, err := drain(t, b, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"你好", "世界", "。"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if q := b.Queries(); len(q) != 1 || q[0] != "hi" {
		t.Errorf("queries = %q", q)
	}
}

func TestBackend_Cumulative(t *testing.T) {
	b := &Backend{Reply: "abcde", FragmentRunes: 2, Cumulative: true}
	got, err := drain(t, b, "q")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"ab", "abcd", "abcde"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBackend_Errors(t *testing.T) {
	b := &Backend{Err: llm.ErrRateLimited}
	if _, err := b.Ask(context.Background(), "x"); !errors.Is(err, llm.ErrRateLimited) {
		t.Errorf("Ask: expected ErrRateLimited, got %v", err)
	}
	if _, err := b.AskStream(context.Background(), "x"); !errors.Is(err, llm.ErrRateLimited) {
		t.Errorf("AskStream: expected ErrRateLimited, got %v", err)
	}

	b = &Backend{Reply: "ab", StreamErr: llm.ErrUpstreamConnection}
	got, err := drain(t, b, "x")
	if !errors.Is(err, llm.ErrUpstreamConnection) || len(got) != 1 {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestBackend_EchoesByDefault(t *testing.T) {
	reply, err := New().Ask(context.Background(), "天气")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "你刚才说的是：天气。我听到了！" {
		t.Errorf("got %q", reply)
	}
}
