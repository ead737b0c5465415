package socket

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"ai-voice-relay-service/internal/persona"
	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/audio"
	"ai-voice-relay-service/internal/service/llm/mock"
	"ai-voice-relay-service/internal/service/session"
	sentimentmock "ai-voice-relay-service/internal/service/sentiment/mock"
	sttmock "ai-voice-relay-service/internal/service/stt/mock"
	ttsmock "ai-voice-relay-service/internal/service/tts/mock"
)

func startServer(t *testing.T, framing protocol.Framing) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return serveOn(t, framing, ln)
}

func serveOn(t *testing.T, framing protocol.Framing, ln net.Listener) net.Addr {
	t.Helper()
	p, _ := persona.Lookup("paimon")
	engines := session.Engines{
		Recognizer:  sttmock.New("你好"),
		Backend:     &mock.Backend{Reply: "你好你好。再见再见！", FragmentRunes: 1},
		Synthesizer: ttsmock.New(),
		Scorer:      sentimentmock.New(),
	}
	reassembler := audio.NewReassembler(audio.Config{ScratchDir: t.TempDir(), Limits: audio.DefaultLimits()})
	orch := session.NewOrchestrator(Binding, engines, reassembler, nil, session.Options{Persona: p, Stream: true})

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(Config{Stream: protocol.StreamOptions{Framing: framing, MaxBytes: 1 << 20}}, orch)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr()
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestServer_LengthFraming(t *testing.T) {
	conn := dial(t, startServer(t, protocol.FramingLength))
	client := protocol.NewStreamCodec(conn, protocol.StreamOptions{})

	greeting, err := client.ReadFrame()
	if err != nil || string(greeting) != "character_paimon" {
		t.Fatalf("greeting = %q, %v", greeting, err)
	}

	for round := 0; round < 2; round++ {
		if err := client.WriteRecording(ttsmock.Tone(1600)); err != nil {
			t.Fatal(err)
		}
		var utterances int
		for {
			frame, err := client.ReadFrame()
			if err != nil {
				t.Fatalf("round %d: read: %v", round, err)
			}
			if protocol.IsStreamEnd(frame) {
				break
			}
			audio, code, err := protocol.SplitUtterance(frame)
			if err != nil {
				t.Fatalf("round %d: bad utterance frame: %v", round, err)
			}
			if !bytes.HasPrefix(audio, []byte("RIFF")) || code != 0 {
				t.Errorf("round %d: utterance audio %q.. code %d", round, audio[:4], code)
			}
			utterances++
		}
		if utterances != 2 {
			t.Errorf("round %d: expected 2 utterances, got %d", round, utterances)
		}
	}
}

func TestServer_BadRecordingEndsExchange(t *testing.T) {
	conn := dial(t, startServer(t, protocol.FramingLength))
	client := protocol.NewStreamCodec(conn, protocol.StreamOptions{})
	if _, err := client.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	if err := client.WriteRecording([]byte("garbage")); err != nil {
		t.Fatal(err)
	}
	frame, err := client.ReadFrame()
	if err != nil || !protocol.IsStreamEnd(frame) {
		t.Fatalf("expected a bare stream end, got %q, %v", frame, err)
	}

	// the session is still usable
	if err := client.WriteRecording(ttsmock.Tone(1600)); err != nil {
		t.Fatal(err)
	}
	if frame, err := client.ReadFrame(); err != nil || protocol.IsStreamEnd(frame) {
		t.Fatalf("expected an utterance, got %q, %v", frame, err)
	}
}

func TestServer_SentinelFraming(t *testing.T) {
	conn := dial(t, startServer(t, protocol.FramingSentinel))

	recording := append(ttsmock.Tone(1600), protocol.Sentinel...)
	if _, err := conn.Write(recording); err != nil {
		t.Fatal(err)
	}

	var got []byte
	buf := make([]byte, 4096)
	for !bytes.HasSuffix(got, protocol.StreamFinished) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read after %d bytes: %v", len(got), err)
		}
		got = append(got, buf[:n]...)
	}

	if !bytes.HasPrefix(got, []byte("character_paimon")) {
		t.Errorf("stream does not start with the greeting: %q", got[:20])
	}
	if !bytes.Contains(got, protocol.Ack) {
		t.Error("no acknowledgement received")
	}
	if n := bytes.Count(got, []byte("?!0")); n != 2 {
		t.Errorf("expected 2 tagged utterances, got %d", n)
	}
}

func TestServer_OneClientAtATime(t *testing.T) {
	addr := startServer(t, protocol.FramingLength)

	first := dial(t, addr)
	firstCodec := protocol.NewStreamCodec(first, protocol.StreamOptions{})
	if _, err := firstCodec.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	second := dial(t, addr)
	second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	one := make([]byte, 1)
	if _, err := second.Read(one); err == nil {
		t.Fatal("second client was greeted while the first was connected")
	}

	first.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	greeting, err := protocol.NewStreamCodec(second, protocol.StreamOptions{}).ReadFrame()
	if err != nil || string(greeting) != "character_paimon" {
		t.Fatalf("second greeting = %q, %v", greeting, err)
	}
}

func TestServer_OversizedFrameIsSkipped(t *testing.T) {
	conn := dial(t, startServer(t, protocol.FramingLength))
	client := protocol.NewStreamCodec(conn, protocol.StreamOptions{})
	if _, err := client.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	if err := client.WriteRecording(make([]byte, 1<<20+1)); err != nil {
		t.Fatal(err)
	}
	frame, err := client.ReadFrame()
	if err != nil || !protocol.IsStreamEnd(frame) {
		t.Fatalf("expected a bare stream end, got %d bytes, %v", len(frame), err)
	}

	if err := client.WriteRecording(ttsmock.Tone(1600)); err != nil {
		t.Fatal(err)
	}
	frame, err = client.ReadFrame()
	if err != nil || protocol.IsStreamEnd(frame) {
		t.Fatalf("expected an utterance after the skipped frame, got %q, %v", frame, err)
	}
}

// flakyListener fails the first few Accept calls the way an exhausted file table does.
type flakyListener struct {
	net.Listener
	mu    sync.Mutex
	fails int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return nil, errors.New("accept: too many open files")
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServer_AcceptErrorsAreRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	conn := dial(t, serveOn(t, protocol.FramingLength, &flakyListener{Listener: ln, fails: 3}))

	greeting, err := protocol.NewStreamCodec(conn, protocol.StreamOptions{}).ReadFrame()
	if err != nil || string(greeting) != "character_paimon" {
		t.Fatalf("greeting = %q, %v", greeting, err)
	}
}

func TestNextAcceptDelay(t *testing.T) {
	var d time.Duration
	for _, want := range []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond} {
		if d = nextAcceptDelay(d); d != want {
			t.Errorf("delay = %v, want %v", d, want)
		}
	}
	if got := nextAcceptDelay(800 * time.Millisecond); got != time.Second {
		t.Errorf("delay cap = %v, want 1s", got)
	}
}
