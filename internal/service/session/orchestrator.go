package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/persona"
	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/schema"
	"ai-voice-relay-service/internal/service/audio"
	"ai-voice-relay-service/internal/service/segment"
	"ai-voice-relay-service/internal/service/sentiment"
)

// EventPublisher receives exchange and utterance events.
type EventPublisher interface {
	PublishExchange(ctx context.Context, key string, event any) error
	PublishUtterance(ctx context.Context, key string, event any) error
}

// Options configures an Orchestrator.
type Options struct {
	Persona persona.Persona
	// Stream selects AskStream over Ask.
	Stream bool
	// Cumulative marks a backend whose stream resends the whole reply each time.
	Cumulative bool
	// Reinforcement schedules the persona preamble for stateless backends.
	Reinforcement segment.Reinforcement
}

// Orchestrator runs sessions for one binding. It is safe for concurrent use;
// each Serve call owns its own Session.
type Orchestrator struct {
	binding     string
	engines     Engines
	reassembler *audio.Reassembler
	publisher   EventPublisher
	validator   *schema.Validator
	metrics     *metrics.Metrics
	opts        Options
}

// NewOrchestrator creates an orchestrator. A nil publisher disables events.
func NewOrchestrator(binding string, engines Engines, reassembler *audio.Reassembler, publisher EventPublisher, opts Options) *Orchestrator {
	return &Orchestrator{
		binding:     binding,
		engines:     engines,
		reassembler: reassembler,
		publisher:   publisher,
		validator:   schema.New(),
		metrics:     metrics.DefaultMetrics,
		opts:        opts,
	}
}

// Persona returns the persona every session of this orchestrator speaks as.
func (o *Orchestrator) Persona() persona.Persona {
	return o.opts.Persona
}

// Serve runs one session on t until the client disconnects or a fatal error
// occurs. A clean disconnect returns nil.
func (o *Orchestrator) Serve(ctx context.Context, t Transport) error {
	sess := New(o.binding, o.opts.Persona)
	logger := logging.WithSession(sess.ID, o.binding, o.opts.Persona.Name)
	logger.Info().Msg("Session started")
	o.metrics.RecordSessionStart(o.binding)

	err := o.loop(ctx, sess, t, logger)
	sess.lifecycle.Close()

	failed := err != nil
	o.metrics.RecordSessionEnd(o.binding, failed, time.Since(sess.StartedAt).Seconds())
	if failed {
		logger.Error().Err(err).Int("exchanges", sess.exchanges).Msg("Session closed on error")
		return err
	}
	logger.Info().Int("exchanges", sess.exchanges).Msg("Session closed")
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, sess *Session, t Transport, logger zerolog.Logger) error {
	for {
		unit, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) || errors.Is(err, protocol.ErrFrameDiscarded) {
				logger.Warn().Err(err).Msg("Malformed inbound message")
				o.metrics.RecordFrameError(o.binding)
				if err := t.SendError(ctx, MsgInvalidFormat); err != nil {
					return fmt.Errorf("send error reply: %w", err)
				}
				continue
			}
			if isDisconnect(err) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				o.metrics.RecordFrameError(o.binding)
			}
			return fmt.Errorf("receive: %w", err)
		}

		if err := o.exchange(ctx, sess, t, unit); err != nil {
			return err
		}
	}
}

// exchangeResult collects what an exchange produced, for its event.
type exchangeResult struct {
	query      string
	reply      strings.Builder
	utterances int
	canned     *CannedReply
}

func (o *Orchestrator) exchange(ctx context.Context, sess *Session, t Transport, unit Inbound) error {
	n := sess.nextExchange()
	start := time.Now()
	logger := logging.WithExchange(sess.ID, n)
	res := &exchangeResult{}

	query, err := o.query(ctx, sess, unit, logger)
	if err != nil {
		if !isMediaError(err) {
			return err
		}
		logger.Error().Err(err).Msg("Exchange aborted")
		sess.lifecycle.Abort()
		o.finish(ctx, sess, n, res, models.OutcomeAborted, start)
		if err := t.SendError(ctx, MsgInternalError); err != nil {
			return fmt.Errorf("send error reply: %w", err)
		}
		return nil
	}
	res.query = query

	if err := sess.lifecycle.Transition(StateExchanging); err != nil {
		return err
	}
	if echo, ok := t.(TextEchoer); ok {
		if err := echo.SendText(ctx, protocol.TypeTextReceive, query); err != nil {
			return fmt.Errorf("echo query: %w", err)
		}
	}

	if strings.TrimSpace(query) != "" {
		prompt := o.opts.Reinforcement.Apply(n, query)
		if o.opts.Reinforcement.Due(n) {
			logger.Info().Msg("Reinforcing persona preamble")
		}
		if err := o.respond(ctx, sess, t, n, prompt, res, logger); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("Empty query, nothing to answer")
	}

	if err := t.SendStreamEnd(ctx); err != nil {
		return fmt.Errorf("send stream end: %w", err)
	}
	if err := sess.lifecycle.Transition(StateIdle); err != nil {
		return err
	}

	outcome := models.OutcomeCompleted
	if res.canned != nil {
		outcome = models.OutcomeCanned
	}
	o.finish(ctx, sess, n, res, outcome, start)
	logger.Info().
		Str("outcome", outcome).
		Int("utterances", res.utterances).
		Dur("duration", time.Since(start)).
		Msg("Exchange completed")
	return nil
}

// query turns the inbound unit into the user's text.
func (o *Orchestrator) query(ctx context.Context, sess *Session, unit Inbound, logger zerolog.Logger) (string, error) {
	if unit.Kind == protocol.UnitText {
		logger.Info().Str("query", unit.Text).Msg("Text query received")
		return unit.Text, nil
	}

	if err := sess.lifecycle.Transition(StateReceiving); err != nil {
		return "", err
	}
	o.metrics.RecordAudioReceived(len(unit.Audio))
	path, err := o.reassembler.Process(sess.ID, unit.Audio)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errMedia, err)
	}
	defer audio.Cleanup(path)

	if err := sess.lifecycle.Transition(StateTranscribing); err != nil {
		return "", err
	}
	start := time.Now()
	text, err := o.engines.Recognizer.Transcribe(ctx, path)
	o.metrics.RecordEngineCall("stt", err, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", errMedia, err)
	}
	logger.Info().Str("query", text).Int("audioBytes", len(unit.Audio)).Msg("Recording transcribed")
	return text, nil
}

// respond asks the backend and speaks its reply utterance by utterance. Upstream
// failures, before or during the reply, are answered with a canned reply.
func (o *Orchestrator) respond(ctx context.Context, sess *Session, t Transport, n int, prompt string, res *exchangeResult, logger zerolog.Logger) error {
	stream, err := o.ask(ctx, prompt)
	if err != nil {
		return o.substitute(ctx, sess, t, n, err, res, logger)
	}
	if c, ok := stream.(io.Closer); ok {
		defer c.Close()
	}
	if o.opts.Stream && o.opts.Cumulative {
		stream = segment.Deltas(stream)
	}

	seg := segment.New(stream)
	for {
		u, err := seg.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return o.substitute(ctx, sess, t, n, err, res, logger)
		}
		if err := o.speak(ctx, sess, t, n, res.utterances, u.Text, nil, res, logger); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) ask(ctx context.Context, prompt string) (segment.FragmentStream, error) {
	start := time.Now()
	if o.opts.Stream {
		stream, err := o.engines.Backend.AskStream(ctx, prompt)
		o.metrics.RecordEngineCall("llm", err, time.Since(start).Seconds())
		return stream, err
	}
	reply, err := o.engines.Backend.Ask(ctx, prompt)
	o.metrics.RecordEngineCall("llm", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return segment.SingleShot(reply), nil
}

// substitute speaks the canned reply for a backend error, or returns the error
// when it is not an upstream failure.
func (o *Orchestrator) substitute(ctx context.Context, sess *Session, t Transport, n int, cause error, res *exchangeResult, logger zerolog.Logger) error {
	canned, ok := cannedFor(cause)
	if !ok || ctx.Err() != nil {
		return fmt.Errorf("backend: %w", cause)
	}
	logger.Warn().Err(cause).Str("reason", canned.Reason).Msg("Backend failed, speaking canned reply")
	o.metrics.RecordCannedReply(canned.Reason)
	res.canned = &canned
	code := canned.Sentiment
	return o.speak(ctx, sess, t, n, res.utterances, canned.Text, &code, res, logger)
}

// speak synthesizes, scores and sends one utterance. A synthesis failure skips
// the utterance; a scoring failure falls back to the neutral tag. A fixed code
// bypasses the scorer.
func (o *Orchestrator) speak(ctx context.Context, sess *Session, t Transport, n, index int, text string, fixed *int, res *exchangeResult, logger zerolog.Logger) error {
	if err := sess.lifecycle.Transition(StateSynthesizing); err != nil {
		return err
	}
	defer sess.lifecycle.Transition(StateExchanging)

	start := time.Now()
	wav, err := o.engines.Synthesizer.Synthesize(ctx, text)
	o.metrics.RecordEngineCall("tts", err, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Str("text", text).Msg("Synthesis failed, skipping utterance")
		o.metrics.RecordUtterance(false)
		return nil
	}

	code := sentiment.Neutral
	if fixed != nil {
		code = *fixed
	} else {
		start = time.Now()
		code, err = o.engines.Scorer.Score(ctx, text)
		o.metrics.RecordEngineCall("sentiment", err, time.Since(start).Seconds())
		if err != nil {
			logger.Warn().Err(err).Msg("Scoring failed, using neutral sentiment")
			code = sentiment.Neutral
		}
	}

	if echo, ok := t.(TextEchoer); ok {
		if err := echo.SendText(ctx, protocol.TypeTextRespond, text); err != nil {
			return fmt.Errorf("echo utterance: %w", err)
		}
	}
	u := OutboundUtterance{Index: index, Text: text, Audio: wav, Sentiment: code}
	if err := t.SendUtterance(ctx, u); err != nil {
		return fmt.Errorf("send utterance: %w", err)
	}

	o.metrics.RecordUtterance(true)
	res.utterances++
	res.reply.WriteString(text)
	logger.Debug().
		Int("index", index).
		Int("sentiment", code).
		Int("audioBytes", len(wav)).
		Str("text", text).
		Msg("Utterance sent")

	o.publish(ctx, sess.ID, models.UtteranceSent{
		EventType:  models.EventUtteranceSent,
		SessionID:  sess.ID,
		Exchange:   n,
		Index:      index,
		Text:       text,
		Sentiment:  code,
		AudioBytes: len(wav),
		Canned:     fixed != nil,
		Timestamp:  time.Now().UnixMilli(),
	})
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, sess *Session, n int, res *exchangeResult, outcome string, start time.Time) {
	elapsed := time.Since(start)
	o.metrics.RecordExchange(o.binding, outcome, elapsed.Seconds())

	ev := models.ExchangeCompleted{
		EventType:  models.EventExchangeCompleted,
		SessionID:  sess.ID,
		Binding:    o.binding,
		Persona:    sess.Persona.Name,
		Exchange:   n,
		Query:      res.query,
		Reply:      res.reply.String(),
		Outcome:    outcome,
		Utterances: res.utterances,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().UnixMilli(),
	}
	if res.canned != nil {
		ev.CannedCause = res.canned.Reason
	}
	o.publish(ctx, sess.ID, ev)
}

// publish validates and sends an event. Event failures never affect the session.
func (o *Orchestrator) publish(ctx context.Context, key string, event any) {
	if o.publisher == nil {
		return
	}
	if err := o.validator.Validate(event); err != nil {
		log := logging.WithComponent("session")
		log.Error().Err(err).Msg("Dropping invalid event")
		return
	}
	var err error
	switch event.(type) {
	case models.ExchangeCompleted:
		err = o.publisher.PublishExchange(ctx, key, event)
	case models.UtteranceSent:
		err = o.publisher.PublishUtterance(ctx, key, event)
	}
	if err != nil {
		log := logging.WithComponent("session")
		log.Warn().Err(err).Str("sessionId", key).Msg("Failed to publish event")
	}
}

var errMedia = errors.New("media error")

// isMediaError reports failures that abort one exchange but not the session.
func isMediaError(err error) bool {
	return errors.Is(err, errMedia)
}

// isDisconnect reports errors that mean the client is gone.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
