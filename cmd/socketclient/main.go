// Command socketclient sends a WAV recording over the byte-stream binding and
// saves every utterance it gets back.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/protocol"
)

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to a WAV recording")
	serverAddr := flag.String("server", "localhost:38438", "Byte-stream binding address")
	framingName := flag.String("framing", "length", "Framing: length or sentinel")
	outDir := flag.String("out", "replies", "Directory for received utterances")
	rounds := flag.Int("rounds", 1, "Number of exchanges to run")
	flag.Parse()

	logging.Init(logging.Config{Level: "debug", Format: "console"})

	framing, err := protocol.ParseFraming(*framingName)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid framing")
	}
	recording, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read audio file")
	}
	if len(recording) < 12 || string(recording[0:4]) != "RIFF" || string(recording[8:12]) != "WAVE" {
		log.Fatal().Msg("Not a valid WAV file")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverAddr).Str("framing", string(framing)).Msg("Connected")

	codec := protocol.NewStreamCodec(conn, protocol.StreamOptions{Framing: framing})

	for round := 1; round <= *rounds; round++ {
		start := time.Now()
		if framing == protocol.FramingSentinel {
			err = sentinelRound(conn, codec, recording, round, *outDir)
		} else {
			err = lengthRound(codec, recording, round, *outDir)
		}
		if err != nil {
			log.Fatal().Err(err).Int("round", round).Msg("Exchange failed")
		}
		log.Info().Int("round", round).Dur("elapsed", time.Since(start)).Msg("Exchange completed")
	}
}

func lengthRound(codec *protocol.StreamCodec, recording []byte, round int, outDir string) error {
	if round == 1 {
		greeting, err := codec.ReadFrame()
		if err != nil {
			return fmt.Errorf("read greeting: %w", err)
		}
		log.Info().Str("persona", string(greeting)).Msg("Greeting received")
	}

	log.Info().Int("bytes", len(recording)).Msg("Sending recording")
	if err := codec.WriteRecording(recording); err != nil {
		return fmt.Errorf("send recording: %w", err)
	}

	for i := 0; ; i++ {
		frame, err := codec.ReadFrame()
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		if protocol.IsStreamEnd(frame) {
			log.Info().Int("utterances", i).Msg("Stream finished")
			return nil
		}
		audio, code, err := protocol.SplitUtterance(frame)
		if err != nil {
			return fmt.Errorf("utterance %d: %w", i, err)
		}
		path := filepath.Join(outDir, fmt.Sprintf("round%d_%02d.wav", round, i))
		if err := os.WriteFile(path, audio, 0o644); err != nil {
			return err
		}
		log.Info().Int("index", i).Int("sentiment", code).Int("bytes", len(audio)).Str("path", path).Msg("Utterance received")
	}
}

// sentinelRound reads the raw reply stream until the stream-end marker. Utterance
// boundaries are not recoverable in this framing, so the whole reply is saved.
func sentinelRound(conn net.Conn, codec *protocol.StreamCodec, recording []byte, round int, outDir string) error {
	log.Info().Int("bytes", len(recording)).Msg("Sending recording")
	if err := codec.WriteRecording(recording); err != nil {
		return fmt.Errorf("send recording: %w", err)
	}

	var got []byte
	buf := make([]byte, 4096)
	for !bytes.HasSuffix(got, protocol.StreamFinished) {
		n, err := conn.Read(buf)
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		got = append(got, buf[:n]...)
	}
	// the saved stream still starts with any greeting and acks
	acks := bytes.Count(got, protocol.Ack)
	got = bytes.TrimSuffix(got, protocol.StreamFinished)

	path := filepath.Join(outDir, fmt.Sprintf("round%d_raw.bin", round))
	if err := os.WriteFile(path, got, 0o644); err != nil {
		return err
	}
	log.Info().
		Int("acks", acks).
		Int("tags", bytes.Count(got, protocol.Sentinel)).
		Int("bytes", len(got)).
		Str("path", path).
		Msg("Reply stream received")
	return nil
}
