// Package audio turns one reassembled inbound recording into the 16 kHz mono WAV
// file the recognizer expects.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"
)

const (
	// canonicalHeaderSize is the size of a RIFF/WAVE header with a single fmt chunk.
	canonicalHeaderSize = 44
	riffSizeOffset      = 4
	dataSizeOffset      = 40
	outputBitDepth      = 16
	pcmFormat           = 1
)

var (
	ErrInvalidContainer  = errors.New("invalid audio container")
	ErrRecordingTooLarge = errors.New("recording exceeds size limit")
	ErrEmptyRecording    = errors.New("recording has no samples")
)

// Limits bounds a single inbound recording.
type Limits struct {
	MaxBytes int64
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes: 5 * 1024 * 1024, // 5MB (~160 seconds at 16kHz 16-bit mono)
	}
}

// Config configures a Reassembler.
type Config struct {
	ScratchDir       string
	TargetSampleRate int
	Limits           Limits
}

// Reassembler repairs, normalizes and persists recordings.
type Reassembler struct {
	scratchDir string
	targetRate int
	limits     Limits
}

// NewReassembler creates a Reassembler.
func NewReassembler(cfg Config) *Reassembler {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = 16000
	}
	return &Reassembler{
		scratchDir: cfg.ScratchDir,
		targetRate: cfg.TargetSampleRate,
		limits:     cfg.Limits,
	}
}

// RepairHeader rewrites the RIFF size and data chunk size of a canonical WAV header
// in place, for recordings whose capture side never finalized them.
func RepairHeader(buf []byte) error {
	if len(buf) < canonicalHeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than a WAV header", ErrInvalidContainer, len(buf))
	}
	if !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidContainer)
	}
	total := uint32(len(buf))
	binary.LittleEndian.PutUint32(buf[riffSizeOffset:], total-8)
	binary.LittleEndian.PutUint32(buf[dataSizeOffset:], total-36)
	return nil
}

// Process repairs raw, converts it to mono at the target rate and writes it to the
// session's scratch file. The returned path is owned by the caller.
func (r *Reassembler) Process(sessionID string, raw []byte) (string, error) {
	if r.limits.MaxBytes > 0 && int64(len(raw)) > r.limits.MaxBytes {
		return "", fmt.Errorf("%w: %d > %d", ErrRecordingTooLarge, len(raw), r.limits.MaxBytes)
	}
	if err := RepairHeader(raw); err != nil {
		return "", err
	}

	samples, channels, rate, err := Decode(raw)
	if err != nil {
		return "", err
	}
	mono := Downmix(samples, channels)
	mono = Resample(mono, rate, r.targetRate)

	if err := os.MkdirAll(r.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(r.scratchDir, sessionID+"_received.wav")
	if err := WriteMono(path, mono, r.targetRate); err != nil {
		return "", err
	}

	log.Debug().
		Str("sessionId", sessionID).
		Int("inputBytes", len(raw)).
		Int("channels", channels).
		Int("sampleRate", rate).
		Int("outputSamples", len(mono)).
		Str("path", path).
		Msg("Recording normalized")

	return path, nil
}

// Decode parses a WAV container into interleaved samples scaled to [-1, 1].
func Decode(buf []byte) ([]float64, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(buf))
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%w: not a decodable PCM WAV", ErrInvalidContainer)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: missing format", ErrInvalidContainer)
	}
	if len(pcm.Data) == 0 {
		return nil, 0, 0, ErrEmptyRecording
	}

	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, 0, 0, fmt.Errorf("%w: bit depth %d", ErrInvalidContainer, depth)
	}
	scale := math.Exp2(float64(depth - 1))
	out := make([]float64, len(pcm.Data))
	for i, s := range pcm.Data {
		if depth == 8 {
			// 8-bit WAV samples are unsigned
			s -= 128
		}
		out[i] = float64(s) / scale
	}
	return out, pcm.Format.NumChannels, pcm.Format.SampleRate, nil
}

// Downmix averages interleaved channels into one.
func Downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		mono[f] = sum / float64(channels)
	}
	return mono
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(in []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(to) / int64(from))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]float64, outLen)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}

// WriteMono writes 16-bit mono PCM samples to a WAV file.
func WriteMono(path string, mono []float64, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return encodeMono(f, mono, rate)
}

// EncodeMono renders 16-bit mono PCM samples as WAV bytes. The encoder needs to
// seek back to finalize the header, so the WAV is staged in a temporary file.
func EncodeMono(mono []float64, rate int) ([]byte, error) {
	f, err := os.CreateTemp("", "mono-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := encodeMono(f, mono, rate); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}

func encodeMono(f *os.File, mono []float64, rate int) error {
	data := make([]int, len(mono))
	for i, s := range mono {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(math.Round(s * math.MaxInt16))
	}

	enc := wav.NewEncoder(f, rate, outputBitDepth, 1, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// Cleanup removes a scratch file once the recognizer is done with it.
func Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove scratch file")
	}
}
