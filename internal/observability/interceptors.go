// Package observability provides the ops HTTP server and the gRPC interceptors of
// the health surface.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
)

// UnaryServerInterceptor records health checks. Probes arrive every few seconds,
// so answered checks log at debug; a check for an unknown binding logs a warning.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		m.RecordGRPCCall(info.FullMethod, code.String())

		logger := callLogger(ctx, info.FullMethod)
		ev := logger.Debug()
		if code == codes.NotFound {
			ev = logger.Warn()
		}
		if r, ok := req.(*grpc_health_v1.HealthCheckRequest); ok {
			ev = ev.Str("healthService", serviceName(r.Service))
		}
		if hc, ok := resp.(*grpc_health_v1.HealthCheckResponse); ok {
			ev = ev.Str("status", hc.Status.String())
		}
		ev.Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("Health check")

		return resp, err
	}
}

// StreamServerInterceptor records health Watch streams, the only streams served.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		logger := callLogger(ss.Context(), info.FullMethod)
		logger.Info().Msg("Health watch opened")

		err := handler(srv, ss)

		code := status.Code(err)
		m.RecordGRPCCall(info.FullMethod, code.String())
		logger.Info().
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("Health watch closed")

		return err
	}
}

func callLogger(ctx context.Context, method string) zerolog.Logger {
	logger := logging.WithComponent("grpc-health").With().Str("method", method)
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		logger = logger.Str("peer", p.Addr.String())
	}
	return logger.Logger()
}

// serviceName labels the overall status, which health clients request as "".
func serviceName(s string) string {
	if s == "" {
		return "(process)"
	}
	return s
}
