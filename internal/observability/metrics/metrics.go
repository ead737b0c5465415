// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  *prometheus.GaugeVec
	SessionsFailed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Exchange metrics
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	CannedReplies    *prometheus.CounterVec

	// Utterance metrics
	UtterancesSent    prometheus.Counter
	UtterancesSkipped prometheus.Counter

	// Wire metrics
	AudioBytesReceived prometheus.Counter
	FrameErrors        *prometheus.CounterVec

	// Engine metrics
	EngineLatency *prometheus.HistogramVec
	EngineErrors  *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC health surface
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions accepted",
		}, []string{"binding"}),
		SessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected sessions",
		}, []string{"binding"}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions closed by a fatal error",
		}, []string{"binding"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),

		ExchangesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Total number of exchanges by outcome",
		}, []string{"binding", "outcome"}),
		ExchangeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from a complete inbound unit to the stream-end marker",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		CannedReplies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canned_replies_total",
			Help:      "Total number of canned replies substituted for backend failures",
		}, []string{"reason"}),

		UtterancesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_sent_total",
			Help:      "Total number of synthesized utterances sent",
		}),
		UtterancesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_skipped_total",
			Help:      "Total number of utterances skipped after a synthesis failure",
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total inbound recording bytes received",
		}),
		FrameErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total number of malformed inbound units",
		}, []string{"binding"}),

		EngineLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_seconds",
			Help:      "External engine call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"engine"}),
		EngineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Total number of external engine errors",
		}, []string{"engine"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls served",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart(binding string) {
	m.SessionsTotal.WithLabelValues(binding).Inc()
	m.SessionsActive.WithLabelValues(binding).Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(binding string, failed bool, durationSeconds float64) {
	m.SessionsActive.WithLabelValues(binding).Dec()
	m.SessionDuration.Observe(durationSeconds)
	if failed {
		m.SessionsFailed.WithLabelValues(binding).Inc()
	}
}

// RecordExchange records a finished exchange.
func (m *Metrics) RecordExchange(binding, outcome string, durationSeconds float64) {
	m.ExchangesTotal.WithLabelValues(binding, outcome).Inc()
	m.ExchangeDuration.Observe(durationSeconds)
}

// RecordCannedReply records a canned reply substitution.
func (m *Metrics) RecordCannedReply(reason string) {
	m.CannedReplies.WithLabelValues(reason).Inc()
}

// RecordUtterance records an utterance being sent or skipped.
func (m *Metrics) RecordUtterance(sent bool) {
	if sent {
		m.UtterancesSent.Inc()
	} else {
		m.UtterancesSkipped.Inc()
	}
}

// RecordAudioReceived records inbound recording bytes.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordFrameError records a malformed inbound unit.
func (m *Metrics) RecordFrameError(binding string) {
	m.FrameErrors.WithLabelValues(binding).Inc()
}

// RecordEngineCall records an external engine call.
func (m *Metrics) RecordEngineCall(engine string, err error, latencySeconds float64) {
	m.EngineLatency.WithLabelValues(engine).Observe(latencySeconds)
	if err != nil {
		m.EngineErrors.WithLabelValues(engine).Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a served gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
