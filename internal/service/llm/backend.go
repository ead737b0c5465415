// Package llm defines the conversational backend the relay forwards queries to.
package llm

import (
	"context"
	"errors"

	"ai-voice-relay-service/internal/service/segment"
)

// Upstream failures. The orchestrator answers each with a canned spoken reply.
var (
	ErrRateLimited        = errors.New("backend rate limited")
	ErrUpstreamConnection = errors.New("backend unreachable")
	ErrUpstreamProtocol   = errors.New("backend returned an invalid response")
)

// Backend produces a reply to one user query.
type Backend interface {
	// Ask returns the complete reply.
	Ask(ctx context.Context, text string) (string, error)
	// AskStream returns the reply as it is generated. Errors raised mid-stream are
	// returned from the stream's Next. Streams that also implement io.Closer must
	// be closed when abandoned early.
	AskStream(ctx context.Context, text string) (segment.FragmentStream, error)
}
