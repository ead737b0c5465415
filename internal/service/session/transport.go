package session

import (
	"context"

	"ai-voice-relay-service/internal/protocol"
)

// Inbound is one complete request from the client.
type Inbound = protocol.Unit

// OutboundUtterance is one synthesized utterance ready for the wire.
type OutboundUtterance struct {
	Index     int
	Text      string
	Audio     []byte
	Sentiment int
}

// Transport is what a wire binding offers the orchestrator.
//
// Receive blocks until one complete inbound unit arrives. A unit that could not
// be decoded is reported with an error wrapping protocol.ErrMalformedMessage; the
// session answers it and keeps going. io.EOF means the client went away.
type Transport interface {
	Receive(ctx context.Context) (Inbound, error)
	SendUtterance(ctx context.Context, u OutboundUtterance) error
	SendStreamEnd(ctx context.Context) error
	SendError(ctx context.Context, msg string) error
}

// TextEchoer is implemented by bindings that also show text to the client:
// the recognized query (protocol.TypeTextReceive) and each reply utterance
// (protocol.TypeTextRespond).
type TextEchoer interface {
	SendText(ctx context.Context, kind, text string) error
}
