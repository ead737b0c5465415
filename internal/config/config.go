// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Socket        SocketConfig
	WebSocket     WebSocketConfig
	Audio         AudioConfig
	Backend       BackendConfig
	TTS           TTSConfig
	Sentiment     SentimentConfig
	STT           STTConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	Persona       PersonaConfig
}

type ServiceConfig struct {
	Principal       string
	GRPCPort        string
	EngineSerialize bool
}

// SocketConfig controls the raw byte-stream binding.
type SocketConfig struct {
	Enabled bool
	Addr    string
	// Framing is "length" (4-byte big-endian prefix) or "sentinel" (legacy "?!" delimiter).
	Framing    string
	ReadChunk  int
	SendPause  time.Duration
	SendBuffer int
}

// WebSocketConfig controls the message-oriented binding.
type WebSocketConfig struct {
	Enabled bool
	Path    string
}

// AudioConfig bounds inbound recordings and sets the scratch location.
type AudioConfig struct {
	MaxBytes         int64
	ScratchDir       string
	TargetSampleRate int
}

// BackendConfig selects and configures the conversational backend.
type BackendConfig struct {
	Provider   string // mock, openai
	BaseURL    string
	APIKey     string
	Model      string
	Stream     bool
	Stateless  bool
	Cumulative bool
}

type TTSConfig struct {
	Provider string // mock, http
	URL      string
	APIKey   string
}

type SentimentConfig struct {
	Provider string // mock, http
	URL      string
}

type STTConfig struct {
	Provider     string // mock, google
	LanguageCode string
	SampleRateHz int
	MockText     string
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicExchange  string
	TopicUtterance string
	Principal      string
}

type ObservabilityConfig struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
}

type PersonaConfig struct {
	Character string
	PromptDir string
}

// Load reads configuration from the environment, after loading a .env file if one exists.
func Load() *Configuration {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-relay")

	return &Configuration{
		Service: ServiceConfig{
			Principal:       principal,
			GRPCPort:        envOrDefault("GRPC_PORT", "50051"),
			EngineSerialize: envOrDefaultBool("ENGINE_SERIALIZE", true),
		},
		Socket: SocketConfig{
			Enabled:    envOrDefaultBool("SOCKET_ENABLED", true),
			Addr:       envOrDefault("SOCKET_ADDR", ":38438"),
			Framing:    envOrDefault("SOCKET_FRAMING", "length"),
			ReadChunk:  envOrDefaultInt("SOCKET_READ_CHUNK", 1024),
			SendPause:  envOrDefaultDuration("SOCKET_SEND_PAUSE", 500*time.Millisecond),
			SendBuffer: envOrDefaultInt("SOCKET_SEND_BUFFER", 10240000),
		},
		WebSocket: WebSocketConfig{
			Enabled: envOrDefaultBool("WS_ENABLED", true),
			Path:    envOrDefault("WS_PATH", "/ws"),
		},
		Audio: AudioConfig{
			MaxBytes:         envOrDefaultInt64("AUDIO_MAX_BYTES", 5*1024*1024),
			ScratchDir:       envOrDefault("AUDIO_SCRATCH_DIR", "tmp"),
			TargetSampleRate: envOrDefaultInt("AUDIO_TARGET_SAMPLE_RATE", 16000),
		},
		Backend: BackendConfig{
			Provider:   envOrDefault("BACKEND_PROVIDER", "mock"),
			BaseURL:    envOrDefault("BACKEND_BASE_URL", "https://api.openai.com/v1"),
			APIKey:     os.Getenv("BACKEND_API_KEY"),
			Model:      envOrDefault("BACKEND_MODEL", "gpt-3.5-turbo"),
			Stream:     envOrDefaultBool("BACKEND_STREAM", true),
			Stateless:  envOrDefaultBool("BACKEND_STATELESS", false),
			Cumulative: envOrDefaultBool("BACKEND_CUMULATIVE", false),
		},
		TTS: TTSConfig{
			Provider: envOrDefault("TTS_PROVIDER", "mock"),
			URL:      envOrDefault("TTS_URL", "http://localhost:9880/tts"),
			APIKey:   os.Getenv("TTS_API_KEY"),
		},
		Sentiment: SentimentConfig{
			Provider: envOrDefault("SENTIMENT_PROVIDER", "mock"),
			URL:      envOrDefault("SENTIMENT_URL", "http://localhost:9881/score"),
		},
		STT: STTConfig{
			Provider:     envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode: envOrDefault("STT_LANGUAGE_CODE", "zh-CN"),
			SampleRateHz: envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			MockText:     envOrDefault("STT_MOCK_TEXT", "你好，今天天气怎么样？"),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			TopicExchange:  envOrDefault("KAFKA_TOPIC_EXCHANGE", "voice.relay.exchange"),
			TopicUtterance: envOrDefault("KAFKA_TOPIC_UTTERANCE", "voice.relay.utterance"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			HTTPAddr:  envOrDefault("HTTP_ADDR", ":8765"),
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
		Persona: PersonaConfig{
			Character: envOrDefault("CHARACTER", "paimon"),
			PromptDir: envOrDefault("PERSONA_PROMPT_DIR", "prompts"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
