package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "ai-voice-relay-service/internal/api/grpc"
	"ai-voice-relay-service/internal/app"
	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/events"
	apphttp "ai-voice-relay-service/internal/http"
	"ai-voice-relay-service/internal/observability"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/persona"
	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/audio"
	"ai-voice-relay-service/internal/service/segment"
	"ai-voice-relay-service/internal/service/session"
	"ai-voice-relay-service/internal/transport/socket"
	"ai-voice-relay-service/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	p, err := persona.Load(cfg.Persona.Character, cfg.Persona.PromptDir)
	if err != nil {
		log.Fatal().Err(err).Str("character", cfg.Persona.Character).Msg("Failed to load persona")
	}
	application := app.New(cfg, p)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engines, closeEngines, err := buildEngines(ctx, cfg, p)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engines")
	}
	defer closeEngines()

	framing, err := protocol.ParseFraming(cfg.Socket.Framing)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid socket framing")
	}

	// Create Kafka publisher with separate topics for exchanges and utterances
	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicExchange:  cfg.Kafka.TopicExchange,
		TopicUtterance: cfg.Kafka.TopicUtterance,
		Principal:      cfg.Kafka.Principal,
	})
	defer publisher.Close()

	reassembler := audio.NewReassembler(audio.Config{
		ScratchDir:       cfg.Audio.ScratchDir,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		Limits:           audio.Limits{MaxBytes: cfg.Audio.MaxBytes},
	})

	opts := session.Options{
		Persona:    p,
		Stream:     cfg.Backend.Stream,
		Cumulative: cfg.Backend.Cumulative,
		Reinforcement: segment.Reinforcement{
			Preamble:  p.Preamble,
			Every:     segment.DefaultReinforcementEvery,
			Stateless: cfg.Backend.Stateless,
		},
	}

	health := grpcapi.NewServer(metrics.DefaultMetrics)
	if err := health.Start(":" + cfg.Service.GRPCPort); err != nil {
		log.Fatal().Err(err).Msg("Failed to start gRPC health server")
	}

	var (
		wsHandler *ws.Handler
		wsRoute   http.Handler
	)
	if cfg.WebSocket.Enabled {
		orch := session.NewOrchestrator(ws.Binding, engines, reassembler, publisher, opts)
		wsHandler = ws.NewHandler(ctx, orch, cfg.Audio.MaxBytes)
		wsRoute = wsHandler
	}
	router := apphttp.NewRouter(application, wsRoute, cfg.WebSocket.Path)
	httpServer := observability.NewServer(cfg.Observability.HTTPAddr, router)
	httpServer.Start()
	health.SetBindingStatus(ws.Binding, cfg.WebSocket.Enabled)

	var wg sync.WaitGroup
	if cfg.Socket.Enabled {
		orch := session.NewOrchestrator(socket.Binding, engines, reassembler, publisher, opts)
		srv := socket.New(socket.Config{
			Addr: cfg.Socket.Addr,
			Stream: protocol.StreamOptions{
				Framing:   framing,
				MaxBytes:  cfg.Audio.MaxBytes,
				ReadChunk: cfg.Socket.ReadChunk,
				SendPause: cfg.Socket.SendPause,
			},
			SendBuffer: cfg.Socket.SendBuffer,
		}, orch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error().Err(err).Msg("Socket binding failed")
				health.SetBindingStatus(socket.Binding, false)
				stop()
			}
		}()
	}
	health.SetBindingStatus(socket.Binding, cfg.Socket.Enabled)

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
	log.Info().
		Str("persona", p.Identifier).
		Str("socketAddr", cfg.Socket.Addr).
		Str("framing", string(framing)).
		Str("httpAddr", cfg.Observability.HTTPAddr).
		Str("wsPath", cfg.WebSocket.Path).
		Msg("Voice relay started")

	<-ctx.Done()

	application.Shutdown()
	health.SetBindingStatus(socket.Binding, false)
	health.SetBindingStatus(ws.Binding, false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if wsHandler != nil {
		wsHandler.Wait()
	}
	wg.Wait()
	health.Shutdown()

	log.Info().Msg("Voice relay stopped")
}
