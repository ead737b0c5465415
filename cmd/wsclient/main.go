// Command wsclient runs exchanges against the WebSocket binding, with either a
// typed query or a WAV recording.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/protocol"
)

type reply struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Sentiment *int   `json:"sentiment"`
	Error     string `json:"error"`
}

func main() {
	url := flag.String("url", "ws://localhost:8765/ws", "WebSocket endpoint")
	text := flag.String("text", "", "Typed query; overrides -audio")
	audioFile := flag.String("audio", "", "Path to a WAV recording")
	outDir := flag.String("out", "replies", "Directory for received utterances")
	flag.Parse()

	logging.Init(logging.Config{Level: "debug", Format: "console"})

	var unit protocol.Unit
	switch {
	case *text != "":
		unit = protocol.Unit{Kind: protocol.UnitText, Text: *text}
	case *audioFile != "":
		b, err := os.ReadFile(*audioFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio file")
		}
		unit = protocol.Unit{Kind: protocol.UnitAudio, Audio: b}
	default:
		log.Fatal().Msg("Either -text or -audio is required")
	}
	msg, err := protocol.EncodeInbound(unit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode request")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("Failed to connect")
	}
	defer conn.Close()

	_, greeting, err := conn.ReadMessage()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read greeting")
	}
	log.Info().Str("persona", string(greeting)).Msg("Connected")

	start := time.Now()
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Fatal().Err(err).Msg("Failed to send request")
	}

	utterances := 0
	for {
		var r reply
		if err := conn.ReadJSON(&r); err != nil {
			log.Fatal().Err(err).Msg("Failed to read reply")
		}
		switch r.Type {
		case protocol.TypeTextReceive:
			log.Info().Str("query", r.Data).Msg("Server heard")
		case protocol.TypeTextRespond:
			log.Info().Str("text", r.Data).Msg("Server says")
		case protocol.TypeAudioResponse:
			path, err := save(*outDir, utterances, r.Data)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to save utterance")
			}
			sentiment := 0
			if r.Sentiment != nil {
				sentiment = *r.Sentiment
			}
			log.Info().Int("index", utterances).Int("sentiment", sentiment).Str("path", path).Msg("Utterance received")
			utterances++
		case protocol.TypeError:
			log.Fatal().Str("error", r.Error).Msg("Server error")
		case protocol.TypeStreamEnd:
			log.Info().Int("utterances", utterances).Dur("elapsed", time.Since(start)).Msg("Stream finished")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func save(dir string, index int, hexAudio string) (string, error) {
	audio, err := hex.DecodeString(hexAudio)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("utterance_%02d.wav", index))
	return path, os.WriteFile(path, audio, 0o644)
}
