// Package app holds process-wide state shared by the bindings and the ops surface.
package app

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/persona"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Persona     persona.Persona

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration. Logging must
// already be initialized.
func New(cfg *config.Configuration, p persona.Persona) *Application {
	a := &Application{
		Cfg:     cfg,
		Persona: p,
		Logger:  logging.WithComponent("application"),
	}
	a.Logger.Info().
		Str("persona", p.Name).
		Str("backend", cfg.Backend.Provider).
		Str("stt", cfg.STT.Provider).
		Str("tts", cfg.TTS.Provider).
		Str("sentiment", cfg.Sentiment.Provider).
		Msg("Voice relay application created")
	return a
}

// Start marks the application ready to serve traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice relay starting")

	return nil
}

// Ready reports whether the application accepts sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown marks the application not ready before the bindings are drained.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Voice relay shutting down")
}
