// Package ws serves the message-oriented binding over WebSocket, one goroutine
// per connection.
package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/session"
)

// Binding is the name sessions of this binding are recorded under.
const Binding = "websocket"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// clients are native apps without an Origin to check
		return true
	},
}

// Handler upgrades requests and runs one session per connection.
type Handler struct {
	ctx      context.Context
	orch     *session.Orchestrator
	maxBytes int64
	wg       sync.WaitGroup
}

// NewHandler creates a handler. Sessions are closed when ctx is done. maxBytes
// bounds one inbound message; hex doubles the recording size on the wire.
func NewHandler(ctx context.Context, orch *session.Orchestrator, maxBytes int64) *Handler {
	return &Handler{ctx: ctx, orch: orch, maxBytes: maxBytes}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()
	defer conn.Close()

	stop := context.AfterFunc(h.ctx, func() { conn.Close() })
	defer stop()

	if h.maxBytes > 0 {
		conn.SetReadLimit(2*h.maxBytes + 1024)
	}
	remote := r.RemoteAddr
	log.Info().Str("remote", remote).Msg("WebSocket client connected")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(h.orch.Persona().Identifier)); err != nil {
		log.Error().Err(err).Str("remote", remote).Msg("Failed to send greeting")
		return
	}

	t := &transport{conn: conn}
	if err := h.orch.Serve(h.ctx, t); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("WebSocket session failed")
		_ = t.SendError(h.ctx, session.MsgInternalError)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
		return
	}
	log.Info().Str("remote", remote).Msg("WebSocket client disconnected")
}

// Wait blocks until every connection handled so far has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// transport adapts a WebSocket connection to session.Transport and session.TextEchoer.
type transport struct {
	conn *websocket.Conn
}

func (t *transport) Receive(ctx context.Context) (session.Inbound, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) || ctx.Err() != nil {
			return session.Inbound{}, io.EOF
		}
		return session.Inbound{}, err
	}
	return protocol.DecodeEnvelope(data)
}

func (t *transport) send(env protocol.Envelope) error {
	b, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

func (t *transport) SendUtterance(ctx context.Context, u session.OutboundUtterance) error {
	return t.send(protocol.AudioResponse(u.Audio, u.Sentiment))
}

func (t *transport) SendStreamEnd(ctx context.Context) error {
	return t.send(protocol.StreamEnd())
}

func (t *transport) SendError(ctx context.Context, msg string) error {
	return t.send(protocol.ErrorReply(msg))
}

func (t *transport) SendText(ctx context.Context, kind, text string) error {
	return t.send(protocol.Envelope{Type: kind, Data: text})
}
