package main

import (
	"context"
	"fmt"

	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/persona"
	"ai-voice-relay-service/internal/service/llm"
	llmmock "ai-voice-relay-service/internal/service/llm/mock"
	"ai-voice-relay-service/internal/service/sentiment"
	sentimentmock "ai-voice-relay-service/internal/service/sentiment/mock"
	"ai-voice-relay-service/internal/service/session"
	"ai-voice-relay-service/internal/service/stt"
	"ai-voice-relay-service/internal/service/stt/google"
	sttmock "ai-voice-relay-service/internal/service/stt/mock"
	"ai-voice-relay-service/internal/service/tts"
	ttsmock "ai-voice-relay-service/internal/service/tts/mock"
)

// buildEngines selects every engine by provider name. The returned cleanup
// releases engine clients.
func buildEngines(ctx context.Context, cfg *config.Configuration, p persona.Persona) (session.Engines, func(), error) {
	cleanup := func() {}

	var recognizer stt.Recognizer
	switch cfg.STT.Provider {
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.STT.LanguageCode
		gcfg.SampleRateHz = int32(cfg.STT.SampleRateHz)
		g, err := google.New(ctx, gcfg)
		if err != nil {
			return session.Engines{}, cleanup, fmt.Errorf("google stt: %w", err)
		}
		recognizer = g
		cleanup = func() { _ = g.Close() }
	case "mock":
		recognizer = sttmock.New(cfg.STT.MockText)
	default:
		return session.Engines{}, cleanup, fmt.Errorf("unknown stt provider %q", cfg.STT.Provider)
	}
	logger := logging.WithEngine("stt", cfg.STT.Provider)
	logger.Info().Msg("Recognizer ready")

	var backend llm.Backend
	switch cfg.Backend.Provider {
	case "openai":
		backend = llm.NewHTTPBackend(llm.HTTPConfig{
			BaseURL:      cfg.Backend.BaseURL,
			APIKey:       cfg.Backend.APIKey,
			Model:        cfg.Backend.Model,
			SystemPrompt: p.Preamble,
			Remember:     !cfg.Backend.Stateless,
		})
	case "mock":
		backend = &llmmock.Backend{Cumulative: cfg.Backend.Cumulative}
	default:
		return session.Engines{}, cleanup, fmt.Errorf("unknown backend provider %q", cfg.Backend.Provider)
	}
	logger = logging.WithEngine("llm", cfg.Backend.Provider)
	logger.Info().
		Str("model", cfg.Backend.Model).
		Bool("stream", cfg.Backend.Stream).
		Bool("stateless", cfg.Backend.Stateless).
		Msg("Backend ready")

	var synthesizer tts.Synthesizer
	switch cfg.TTS.Provider {
	case "http":
		synthesizer = tts.NewHTTPSynthesizer(cfg.TTS.URL, cfg.TTS.APIKey, p.Voice)
	case "mock":
		synthesizer = ttsmock.New()
	default:
		return session.Engines{}, cleanup, fmt.Errorf("unknown tts provider %q", cfg.TTS.Provider)
	}
	logger = logging.WithEngine("tts", cfg.TTS.Provider)
	logger.Info().Str("voice", p.Voice.Model).Msg("Synthesizer ready")

	var scorer sentiment.Scorer
	switch cfg.Sentiment.Provider {
	case "http":
		scorer = sentiment.NewHTTPScorer(cfg.Sentiment.URL)
	case "mock":
		scorer = sentimentmock.New()
	default:
		return session.Engines{}, cleanup, fmt.Errorf("unknown sentiment provider %q", cfg.Sentiment.Provider)
	}
	logger = logging.WithEngine("sentiment", cfg.Sentiment.Provider)
	logger.Info().Msg("Scorer ready")

	engines := session.Engines{
		Recognizer:  recognizer,
		Backend:     backend,
		Synthesizer: synthesizer,
		Scorer:      scorer,
	}
	if cfg.Service.EngineSerialize {
		engines = session.Serialized(engines)
	}
	return engines, cleanup, nil
}
