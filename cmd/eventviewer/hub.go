package main

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is the union of the exchange and utterance event fields a viewer shows.
type Event struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId"`
	Binding     string `json:"binding,omitempty"`
	Persona     string `json:"persona,omitempty"`
	Exchange    int    `json:"exchange"`
	Index       int    `json:"index"`
	Query       string `json:"query,omitempty"`
	Reply       string `json:"reply,omitempty"`
	Text        string `json:"text,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Sentiment   int    `json:"sentiment"`
	Canned      bool   `json:"canned,omitempty"`
	CannedCause string `json:"cannedCause,omitempty"`
	DurationMs  int64  `json:"durationMs,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Hub fans events out to every connected browser.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Info().Int("clients", h.Clients()).Msg("Viewer connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Info().Int("clients", h.Clients()).Msg("Viewer disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Warn().Err(err).Msg("Viewer write failed")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) stop() {
	close(h.done)
}
