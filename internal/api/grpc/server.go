// Package grpcapi serves gRPC health checking and reflection for the relay.
package grpcapi

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-relay-service/internal/observability"
	"ai-voice-relay-service/internal/observability/metrics"
)

// ServicePrefix names the health entry of each binding: voice.relay.<binding>.
const ServicePrefix = "voice.relay."

// Server exposes the health status of the process and of each binding.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewServer creates a health server with the logging and metrics interceptors.
func NewServer(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, h)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: h}
}

// SetBindingStatus publishes whether a binding accepts sessions.
func (s *Server) SetBindingStatus(binding string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServicePrefix+binding, status)
}

// Start listens on addr and serves in a goroutine. The overall status is SERVING
// once Start returns.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.lis = lis
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
		if err := s.grpc.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Shutdown marks everything NOT_SERVING and stops the server gracefully.
func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
