package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/persona"
	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/audio"
	"ai-voice-relay-service/internal/service/llm"
	llmmock "ai-voice-relay-service/internal/service/llm/mock"
	"ai-voice-relay-service/internal/service/segment"
	"ai-voice-relay-service/internal/service/sentiment"
	sentimentmock "ai-voice-relay-service/internal/service/sentiment/mock"
	sttmock "ai-voice-relay-service/internal/service/stt/mock"
	ttsmock "ai-voice-relay-service/internal/service/tts/mock"
)

// fakeTransport replays scripted inbound results and records everything sent.
type fakeTransport struct {
	inbound []inboundResult
	sent    []string
	utts    []OutboundUtterance
	echo    bool
	failOn  string
}

type inboundResult struct {
	unit Inbound
	err  error
}

func (f *fakeTransport) Receive(ctx context.Context) (Inbound, error) {
	if len(f.inbound) == 0 {
		return Inbound{}, io.EOF
	}
	r := f.inbound[0]
	f.inbound = f.inbound[1:]
	return r.unit, r.err
}

func (f *fakeTransport) record(s string) error {
	if f.failOn != "" && strings.HasPrefix(s, f.failOn) {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeTransport) SendUtterance(ctx context.Context, u OutboundUtterance) error {
	if err := f.record(fmt.Sprintf("utterance:%d:%s", u.Sentiment, u.Text)); err != nil {
		return err
	}
	f.utts = append(f.utts, u)
	return nil
}

func (f *fakeTransport) SendStreamEnd(ctx context.Context) error {
	return f.record("end")
}

func (f *fakeTransport) SendError(ctx context.Context, msg string) error {
	return f.record("error:" + msg)
}

// echoTransport adds TextEchoer.
type echoTransport struct {
	*fakeTransport
}

func (e echoTransport) SendText(ctx context.Context, kind, text string) error {
	return e.record(kind + ":" + text)
}

type recordingPublisher struct {
	mu         sync.Mutex
	exchanges  []models.ExchangeCompleted
	utterances []models.UtteranceSent
}

func (p *recordingPublisher) PublishExchange(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges = append(p.exchanges, event.(models.ExchangeCompleted))
	return nil
}

func (p *recordingPublisher) PublishUtterance(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utterances = append(p.utterances, event.(models.UtteranceSent))
	return nil
}

type fixture struct {
	backend *llmmock.Backend
	synth   *ttsmock.Synthesizer
	scorer  *sentimentmock.Scorer
	stt     *sttmock.Recognizer
	pub     *recordingPublisher
	opts    Options
	dir     string
}

func newFixture(t *testing.T) *fixture {
	p, _ := persona.Lookup("paimon")
	return &fixture{
		backend: &llmmock.Backend{Reply: "你好你好。今天天气很好！", FragmentRunes: 1},
		synth:   ttsmock.New(),
		scorer:  &sentimentmock.Scorer{},
		stt:     sttmock.New("今天天气怎么样"),
		pub:     &recordingPublisher{},
		opts:    Options{Persona: p, Stream: true},
		dir:     t.TempDir(),
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	engines := Engines{Recognizer: f.stt, Backend: f.backend, Synthesizer: f.synth, Scorer: f.scorer}
	r := audio.NewReassembler(audio.Config{ScratchDir: f.dir, Limits: audio.DefaultLimits()})
	return NewOrchestrator("test", engines, r, f.pub, f.opts)
}

func text(s string) inboundResult {
	return inboundResult{unit: Inbound{Kind: protocol.UnitText, Text: s}}
}

func recording() inboundResult {
	return inboundResult{unit: Inbound{Kind: protocol.UnitAudio, Audio: ttsmock.Tone(1600)}}
}

func assertSent(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("sent:\n  %s\nwant:\n  %s", strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
}

func TestServe_TextExchange(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{text("天气")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSent(t, tr.sent,
		"utterance:0:你好你好。",
		"utterance:0:今天天气很好！",
		"end",
	)
	if len(f.pub.exchanges) != 1 || f.pub.exchanges[0].Outcome != models.OutcomeCompleted {
		t.Fatalf("exchange events = %+v", f.pub.exchanges)
	}
	if got := f.pub.exchanges[0].Reply; got != "你好你好。今天天气很好！" {
		t.Errorf("reply = %q", got)
	}
	if len(f.pub.utterances) != 2 {
		t.Errorf("expected 2 utterance events, got %d", len(f.pub.utterances))
	}
	if len(tr.utts[0].Audio) == 0 {
		t.Error("utterance audio is empty")
	}
}

func TestServe_AudioExchange(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{recording()}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q := f.backend.Queries(); len(q) != 1 || q[0] != "今天天气怎么样" {
		t.Errorf("backend queries = %q", q)
	}
	if len(tr.sent) != 3 || tr.sent[2] != "end" {
		t.Errorf("sent = %q", tr.sent)
	}
	if f.stt.Calls() != 1 {
		t.Errorf("recognizer calls = %d", f.stt.Calls())
	}
}

func TestServe_SingleShotBackend(t *testing.T) {
	f := newFixture(t)
	f.opts.Stream = false
	tr := &fakeTransport{inbound: []inboundResult{text("x")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	assertSent(t, tr.sent,
		"utterance:0:你好你好。",
		"utterance:0:今天天气很好！",
		"end",
	)
}

func TestServe_CumulativeBackend(t *testing.T) {
	f := newFixture(t)
	f.backend.Cumulative = true
	f.opts.Cumulative = true
	tr := &fakeTransport{inbound: []inboundResult{text("x")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	assertSent(t, tr.sent,
		"utterance:0:你好你好。",
		"utterance:0:今天天气很好！",
		"end",
	)
}

func TestServe_UpstreamFailureSpeaksCannedReply(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		text      string
		sentiment int
	}{
		{"rate limited", llm.ErrRateLimited, RateLimitText, RateLimitSentiment},
		{"connection", fmt.Errorf("dial: %w", llm.ErrUpstreamConnection), ConnectivityText, ConnectivitySentiment},
		{"protocol", llm.ErrUpstreamProtocol, ConnectivityText, ConnectivitySentiment},
	}

	for _, tt := range tests {
		for _, stream := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/stream=%v", tt.name, stream), func(t *testing.T) {
				f := newFixture(t)
				f.backend.Err = tt.err
				f.opts.Stream = stream
				tr := &fakeTransport{inbound: []inboundResult{text("hi"), text("again")}}

				if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
					t.Fatalf("upstream failure must not close the session: %v", err)
				}
				one := fmt.Sprintf("utterance:%d:%s", tt.sentiment, tt.text)
				assertSent(t, tr.sent, one, "end", one, "end")
				if f.pub.exchanges[0].Outcome != models.OutcomeCanned {
					t.Errorf("outcome = %q", f.pub.exchanges[0].Outcome)
				}
			})
		}
	}
}

func TestServe_UpstreamFailureMidStream(t *testing.T) {
	f := newFixture(t)
	f.backend.Reply = "你好你好。今天天气"
	f.backend.StreamErr = llm.ErrUpstreamConnection
	tr := &fakeTransport{inbound: []inboundResult{text("hi")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	// the first utterance completed before the stream broke; the pending tail is lost
	assertSent(t, tr.sent,
		"utterance:0:你好你好。",
		fmt.Sprintf("utterance:%d:%s", ConnectivitySentiment, ConnectivityText),
		"end",
	)
}

func TestServe_ScorerFailureStillSendsAudio(t *testing.T) {
	f := newFixture(t)
	f.scorer.Err = sentiment.ErrScoring
	tr := &fakeTransport{inbound: []inboundResult{text("hi")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.utts) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(tr.utts))
	}
	for _, u := range tr.utts {
		if u.Sentiment != sentiment.Neutral || len(u.Audio) == 0 {
			t.Errorf("utterance %+v", u)
		}
	}
}

func TestServe_SynthesisFailureSkipsUtterance(t *testing.T) {
	f := newFixture(t)
	f.synth.Fail = func(text string) error {
		if strings.HasPrefix(text, "你好") {
			return errors.New("voice model crashed")
		}
		return nil
	}
	tr := &fakeTransport{inbound: []inboundResult{text("hi")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	assertSent(t, tr.sent, "utterance:0:今天天气很好！", "end")
}

func TestServe_MalformedMessageContinues(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{
		{err: fmt.Errorf("%w: missing type", protocol.ErrMalformedMessage)},
		text("hi"),
	}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if tr.sent[0] != "error:"+MsgInvalidFormat {
		t.Errorf("first reply = %q", tr.sent[0])
	}
	if tr.sent[len(tr.sent)-1] != "end" {
		t.Errorf("session did not continue: %q", tr.sent)
	}
}

func TestServe_MediaErrorAbortsExchangeOnly(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{
		{unit: Inbound{Kind: protocol.UnitAudio, Audio: []byte("not a wav file")}},
		text("hi"),
	}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if tr.sent[0] != "error:"+MsgInternalError {
		t.Errorf("first reply = %q", tr.sent[0])
	}
	if tr.sent[len(tr.sent)-1] != "end" {
		t.Errorf("session did not continue: %q", tr.sent)
	}
	if f.pub.exchanges[0].Outcome != models.OutcomeAborted || f.pub.exchanges[1].Exchange != 2 {
		t.Errorf("exchange events = %+v", f.pub.exchanges)
	}
}

func TestServe_RecognitionFailureAbortsExchange(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{recording(), text("hi")}}
	o := f.orchestrator()
	o.engines.Recognizer = failingRecognizer{}

	if err := o.Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if tr.sent[0] != "error:"+MsgInternalError {
		t.Errorf("first reply = %q", tr.sent[0])
	}
	if len(f.backend.Queries()) != 1 {
		t.Errorf("backend should only see the text query, got %q", f.backend.Queries())
	}
}

type failingRecognizer struct{}

func (failingRecognizer) Transcribe(ctx context.Context, path string) (string, error) {
	return "", errors.New("asr crashed: " + path)
}

func TestServe_FatalErrorClosesSession(t *testing.T) {
	f := newFixture(t)
	f.backend.Err = errors.New("segfault in backend")
	tr := &fakeTransport{inbound: []inboundResult{text("hi"), text("never")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err == nil {
		t.Fatal("expected a fatal error")
	}
	if len(tr.sent) != 0 {
		t.Errorf("nothing should be sent, got %q", tr.sent)
	}
}

func TestServe_WriteFailureClosesSession(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{text("hi")}, failOn: "utterance"}

	if err := f.orchestrator().Serve(context.Background(), tr); err == nil {
		t.Fatal("expected an error when the client cannot be written to")
	}
}

func TestServe_DiscardedFrameIsAnsweredAndSessionContinues(t *testing.T) {
	f := newFixture(t)
	oversized := fmt.Errorf("%w: %w", protocol.ErrFrameDiscarded, protocol.ErrFrameTooLarge)
	tr := &fakeTransport{inbound: []inboundResult{{err: oversized}, text("你好")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.sent) < 3 || tr.sent[0] != "error:"+MsgInvalidFormat {
		t.Fatalf("sent = %q", tr.sent)
	}
	if tr.sent[len(tr.sent)-1] != "end" || len(tr.utts) != 2 {
		t.Errorf("exchange after the discarded frame did not complete: %q", tr.sent)
	}
}

func TestServe_UnrecoverableFrameTooLargeIsFatal(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{{err: protocol.ErrFrameTooLarge}, text("你好")}}

	if err := f.orchestrator().Serve(context.Background(), tr); !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Errorf("nothing should be sent, got %q", tr.sent)
	}
}

func TestServe_ReinforcementEveryFifthExchange(t *testing.T) {
	f := newFixture(t)
	f.opts.Reinforcement = segment.Reinforcement{Preamble: "你是派蒙", Every: 5, Stateless: true}
	var in []inboundResult
	for i := 1; i <= 10; i++ {
		in = append(in, text(fmt.Sprintf("q%d", i)))
	}
	tr := &fakeTransport{inbound: in}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	queries := f.backend.Queries()
	if len(queries) != 10 {
		t.Fatalf("expected 10 queries, got %d", len(queries))
	}
	for i, q := range queries {
		n := i + 1
		want := fmt.Sprintf("q%d", n)
		if n%5 == 0 {
			want = "你是派蒙\n" + want
		}
		if q != want {
			t.Errorf("exchange %d sent %q, want %q", n, q, want)
		}
	}
}

func TestServe_TextEchoer(t *testing.T) {
	f := newFixture(t)
	tr := echoTransport{&fakeTransport{inbound: []inboundResult{text("天气")}}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	assertSent(t, tr.sent,
		"text_receive:天气",
		"text_respond:你好你好。",
		"utterance:0:你好你好。",
		"text_respond:今天天气很好！",
		"utterance:0:今天天气很好！",
		"end",
	)
}

func TestServe_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{inbound: []inboundResult{text("   ")}}

	if err := f.orchestrator().Serve(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	assertSent(t, tr.sent, "end")
	if len(f.backend.Queries()) != 0 {
		t.Error("empty query should not reach the backend")
	}
}

func TestServe_SerializedEngines(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	o.engines = Serialized(o.engines)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := &fakeTransport{inbound: []inboundResult{text("a"), text("b")}}
			errs <- o.Serve(context.Background(), tr)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if len(f.backend.Queries()) != 8 {
		t.Errorf("expected 8 backend queries, got %d", len(f.backend.Queries()))
	}
}
