// Package socket serves the raw byte-stream binding: one TCP client at a time.
package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/session"
)

// Binding is the name sessions of this binding are recorded under.
const Binding = "socket"

// Config holds the byte-stream binding configuration.
type Config struct {
	Addr       string
	Stream     protocol.StreamOptions
	SendBuffer int
}

// Server accepts connections and serves them strictly one after another.
type Server struct {
	cfg  Config
	orch *session.Orchestrator

	mu       sync.Mutex
	listener net.Listener
}

// New creates a byte-stream server.
func New(cfg Config, orch *session.Orchestrator) *Server {
	return &Server{cfg: cfg, orch: orch}
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop on ln. A second client waits in the listen backlog
// until the current one disconnects.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("framing", string(s.cfg.Stream.Framing)).
		Msg("Socket binding listening")

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("Socket binding stopped")
				return nil
			}
			delay = nextAcceptDelay(delay)
			log.Error().Err(err).Dur("retryIn", delay).Msg("Accept failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0
		s.handle(ctx, conn)
	}
}

// nextAcceptDelay backs off from 5ms up to a second between failed accepts.
func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	if tcp, ok := conn.(*net.TCPConn); ok && s.cfg.SendBuffer > 0 {
		if err := tcp.SetWriteBuffer(s.cfg.SendBuffer); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("Failed to set send buffer")
		}
	}
	log.Info().Str("remote", remote).Msg("Client connected")

	codec := protocol.NewStreamCodec(conn, s.cfg.Stream)
	if err := codec.WriteGreeting(s.orch.Persona().Identifier); err != nil {
		log.Error().Err(err).Str("remote", remote).Msg("Failed to send greeting")
		return
	}

	if err := s.orch.Serve(ctx, &transport{codec: codec}); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("Connection dropped")
		return
	}
	log.Info().Str("remote", remote).Msg("Client disconnected")
}

// transport adapts a StreamCodec to session.Transport.
type transport struct {
	codec *protocol.StreamCodec
}

func (t *transport) Receive(ctx context.Context) (session.Inbound, error) {
	raw, err := t.codec.ReadUnit()
	if err != nil {
		if ctx.Err() != nil {
			return session.Inbound{}, io.EOF
		}
		return session.Inbound{}, err
	}
	return session.Inbound{Kind: protocol.UnitAudio, Audio: raw}, nil
}

func (t *transport) SendUtterance(ctx context.Context, u session.OutboundUtterance) error {
	return t.codec.WriteUtterance(u.Audio, u.Sentiment)
}

func (t *transport) SendStreamEnd(ctx context.Context) error {
	return t.codec.WriteStreamEnd()
}

// SendError ends the exchange: the byte-stream wire has no error frame, and the
// stream-end marker is what returns the client to listening.
func (t *transport) SendError(ctx context.Context, msg string) error {
	return t.codec.WriteStreamEnd()
}
