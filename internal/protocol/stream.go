// Package protocol implements the two wire framings of the relay: the byte-stream
// socket codec and the JSON envelope used over WebSocket.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

var (
	// Sentinel separates audio from its sentiment tag, and ends inbound recordings in legacy framing.
	Sentinel = []byte("?!")
	// Ack is written after every inbound read in legacy framing.
	Ack = []byte("sb")
	// StreamFinished marks the end of an exchange.
	StreamFinished = []byte("stream_finished")
)

var (
	ErrFrameTooLarge    = errors.New("inbound frame exceeds size limit")
	ErrMissingSentinel  = errors.New("utterance payload has no sentinel")
	ErrInvalidSentiment = errors.New("utterance payload has an invalid sentiment tag")
	ErrUnknownFraming   = errors.New("unknown framing")

	// ErrFrameDiscarded accompanies ErrFrameTooLarge when the oversized body was
	// skipped and the next frame can still be read.
	ErrFrameDiscarded = errors.New("frame discarded")
)

// Framing selects how the byte-stream binding delimits units.
type Framing string

const (
	// FramingLength prefixes every unit with a 4-byte big-endian length.
	FramingLength Framing = "length"
	// FramingSentinel is the legacy delimiter framing: inbound units end with "?!"
	// and outbound units carry no length at all.
	FramingSentinel Framing = "sentinel"
)

// ParseFraming validates a framing name.
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case FramingLength, FramingSentinel:
		return Framing(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFraming, s)
	}
}

const lengthPrefixSize = 4

// EncodeUtterance renders audio followed by the sentinel and the decimal sentiment code.
func EncodeUtterance(audio []byte, code int) []byte {
	tag := strconv.Itoa(code)
	out := make([]byte, 0, len(audio)+len(Sentinel)+len(tag))
	out = append(out, audio...)
	out = append(out, Sentinel...)
	out = append(out, tag...)
	return out
}

// SplitUtterance is the receiving side of EncodeUtterance. The sentinel is located
// from the end, so audio containing "?!" still splits correctly.
func SplitUtterance(payload []byte) ([]byte, int, error) {
	i := bytes.LastIndex(payload, Sentinel)
	if i < 0 {
		return nil, 0, ErrMissingSentinel
	}
	code, err := strconv.Atoi(string(payload[i+len(Sentinel):]))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidSentiment, err)
	}
	return payload[:i], code, nil
}

// StreamOptions configures a StreamCodec.
type StreamOptions struct {
	Framing   Framing
	MaxBytes  int64
	ReadChunk int
	// SendPause is slept after each utterance and before the stream-end marker in
	// legacy framing, where the peer has no other way to tell writes apart.
	SendPause time.Duration
}

// StreamCodec reads and writes units on one byte-stream connection. It is not safe
// for concurrent use; a session owns its codec.
type StreamCodec struct {
	rw    io.ReadWriter
	opts  StreamOptions
	sleep func(time.Duration)
}

// NewStreamCodec wraps a connection.
func NewStreamCodec(rw io.ReadWriter, opts StreamOptions) *StreamCodec {
	if opts.Framing == "" {
		opts.Framing = FramingLength
	}
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = 1024
	}
	return &StreamCodec{rw: rw, opts: opts, sleep: time.Sleep}
}

// Framing reports the codec's framing mode.
func (c *StreamCodec) Framing() Framing {
	return c.opts.Framing
}

// ReadUnit blocks until one complete inbound recording has been received.
func (c *StreamCodec) ReadUnit() ([]byte, error) {
	if c.opts.Framing == FramingSentinel {
		return c.readSentinel()
	}
	return c.ReadFrame()
}

// ReadFrame reads one length-prefixed frame. Clients use it to read replies.
func (c *StreamCodec) ReadFrame() ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(c.rw, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if c.opts.MaxBytes > 0 && int64(n) > c.opts.MaxBytes {
		if _, err := io.CopyN(io.Discard, c.rw, int64(n)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w: %d > %d", ErrFrameDiscarded, ErrFrameTooLarge, n, c.opts.MaxBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

func (c *StreamCodec) readSentinel() ([]byte, error) {
	var data []byte
	chunk := make([]byte, c.opts.ReadChunk)
	for {
		n, err := c.rw.Read(chunk)
		if n > 0 {
			if _, werr := c.rw.Write(Ack); werr != nil {
				return nil, werr
			}
			data = append(data, chunk[:n]...)
			if c.opts.MaxBytes > 0 && int64(len(data)) > c.opts.MaxBytes+int64(len(Sentinel)) {
				return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), c.opts.MaxBytes)
			}
			if bytes.HasSuffix(data, Sentinel) {
				return data[:len(data)-len(Sentinel)], nil
			}
		}
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// WriteFrame writes payload as one unit in the codec's framing.
func (c *StreamCodec) WriteFrame(payload []byte) error {
	if c.opts.Framing == FramingSentinel {
		_, err := c.rw.Write(payload)
		return err
	}
	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	_, err := c.rw.Write(buf)
	return err
}

// WriteRecording sends a recording as the client side of ReadUnit.
func (c *StreamCodec) WriteRecording(audio []byte) error {
	if c.opts.Framing == FramingSentinel {
		return c.WriteFrame(append(append([]byte{}, audio...), Sentinel...))
	}
	return c.WriteFrame(audio)
}

// WriteGreeting sends the persona identifier that opens every connection.
func (c *StreamCodec) WriteGreeting(identifier string) error {
	return c.WriteFrame([]byte(identifier))
}

// WriteUtterance sends one synthesized utterance with its sentiment tag.
func (c *StreamCodec) WriteUtterance(audio []byte, code int) error {
	if err := c.WriteFrame(EncodeUtterance(audio, code)); err != nil {
		return err
	}
	c.pause()
	return nil
}

// WriteStreamEnd signals that no more utterances follow for this exchange.
func (c *StreamCodec) WriteStreamEnd() error {
	c.pause()
	return c.WriteFrame(StreamFinished)
}

func (c *StreamCodec) pause() {
	if c.opts.Framing == FramingSentinel && c.opts.SendPause > 0 {
		c.sleep(c.opts.SendPause)
	}
}

// IsStreamEnd reports whether a received frame is the stream-end marker.
func IsStreamEnd(payload []byte) bool {
	return bytes.Equal(payload, StreamFinished)
}
