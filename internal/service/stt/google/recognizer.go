// Package google provides a Google Cloud Speech-to-Text recognizer.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"

	"ai-voice-relay-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode  string
	SampleRateHz  int32
	AudioEncoding string
}

// DefaultConfig returns the configuration matching the reassembler's output.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "zh-CN",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// recognizeClient is the subset of speech.Client used here.
type recognizeClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Recognizer implements stt.Recognizer with synchronous recognition.
type Recognizer struct {
	client recognizeClient
	cfg    Config
}

// New creates a Google recognizer.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Recognizer{client: c, cfg: cfg}, nil
}

// Transcribe sends the recording in one request and joins the top alternatives.
func (r *Recognizer) Transcribe(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", stt.ErrRecognition, err)
	}

	resp, err := r.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        parseAudioEncoding(r.cfg.AudioEncoding),
			SampleRateHertz: r.cfg.SampleRateHz,
			LanguageCode:    r.cfg.LanguageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", stt.ErrRecognition, err)
	}

	var sb strings.Builder
	for _, res := range resp.GetResults() {
		if alts := res.GetAlternatives(); len(alts) > 0 {
			sb.WriteString(alts[0].GetTranscript())
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: no speech detected", stt.ErrRecognition)
	}
	return text, nil
}

// Close releases the underlying client.
func (r *Recognizer) Close() error {
	return r.client.Close()
}

// parseAudioEncoding converts a string encoding name to the protobuf enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
