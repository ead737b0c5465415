// Package models defines the data structures for session events.
package models

const (
	EventExchangeCompleted = "relay.exchange.completed"
	EventUtteranceSent     = "relay.utterance.sent"
)

// Exchange outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCanned    = "canned"
	OutcomeAborted   = "aborted"
)

// ExchangeCompleted is published once per exchange, after the stream-end marker.
type ExchangeCompleted struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId"`
	Binding     string `json:"binding"`
	Persona     string `json:"persona"`
	Exchange    int    `json:"exchange"`
	Query       string `json:"query"`
	Reply       string `json:"reply"`
	Outcome     string `json:"outcome"`
	Utterances  int    `json:"utterances"`
	DurationMs  int64  `json:"durationMs"`
	Timestamp   int64  `json:"timestamp"`
	CannedCause string `json:"cannedCause,omitempty"`
}

// UtteranceSent is published for each utterance written to the client.
type UtteranceSent struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	Exchange   int    `json:"exchange"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Sentiment  int    `json:"sentiment"`
	AudioBytes int    `json:"audioBytes"`
	Canned     bool   `json:"canned"`
	Timestamp  int64  `json:"timestamp"`
}
