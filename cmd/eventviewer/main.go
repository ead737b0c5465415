// Command eventviewer follows the relay's exchange and utterance topics and shows
// them in the terminal and, live, in a browser.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/logging"
)

const page = `<!doctype html>
<meta charset="utf-8">
<title>voice relay events</title>
<style>body{font-family:monospace}li.canned{color:#b00}</style>
<ul id="events"></ul>
<script>
const ul = document.getElementById("events");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (m) => {
  const e = JSON.parse(m.data);
  const li = document.createElement("li");
  if (e.canned || e.outcome === "canned") li.className = "canned";
  li.textContent = e.eventType === "relay.exchange.completed"
    ? "[" + e.sessionId.slice(0, 8) + " #" + e.exchange + "] " + e.query + " -> " + e.reply + " (" + e.outcome + ", " + e.durationMs + "ms)"
    : "[" + e.sessionId.slice(0, 8) + " #" + e.exchange + "." + e.index + "] " + e.text + " (" + e.sentiment + ")";
  ul.prepend(li);
};
</script>
`

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		hub.register <- conn

		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}

// decodeEvent parses one message value from either topic.
func decodeEvent(value []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string) {
	// Partition reader without a consumer group, like a port-forwarded dev cluster needs
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Msg("Consuming partition 0 (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read failed")
			time.Sleep(time.Second)
			continue
		}

		ev, err := decodeEvent(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable event")
			continue
		}
		logEvent(ev)
		select {
		case hub.broadcast <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func logEvent(ev Event) {
	switch ev.EventType {
	case models.EventExchangeCompleted:
		log.Info().
			Str("sessionId", ev.SessionID).
			Int("exchange", ev.Exchange).
			Str("outcome", ev.Outcome).
			Str("query", ev.Query).
			Str("reply", truncate(ev.Reply, 60)).
			Msg("Exchange")
	case models.EventUtteranceSent:
		log.Info().
			Str("sessionId", ev.SessionID).
			Int("exchange", ev.Exchange).
			Int("index", ev.Index).
			Int("sentiment", ev.Sentiment).
			Bool("canned", ev.Canned).
			Str("text", ev.Text).
			Msg("Utterance")
	default:
		log.Debug().Str("eventType", ev.EventType).Msg("Unknown event type")
	}
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

func main() {
	addr := flag.String("addr", ":8081", "HTTP listen address")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicExchange := flag.String("topic-exchange", "voice.relay.exchange", "Exchange topic")
	topicUtterance := flag.String("topic-utterance", "voice.relay.utterance", "Utterance topic")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run()
	defer hub.stop()

	list := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, list, *topicExchange)
	go consumeKafka(ctx, hub, list, *topicUtterance)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", *addr).Strs("brokers", list).Msg("Event viewer starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
