package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message types of the WebSocket envelope.
const (
	TypeAudio         = "audio"
	TypeText          = "text"
	TypeTextReceive   = "text_receive"
	TypeTextRespond   = "text_respond"
	TypeAudioResponse = "audio_response"
	TypeStreamEnd     = "stream_end"
	TypeError         = "error"
)

// UnitKind tells audio units from text units.
type UnitKind int

const (
	UnitAudio UnitKind = iota
	UnitText
)

func (k UnitKind) String() string {
	switch k {
	case UnitAudio:
		return "audio"
	case UnitText:
		return "text"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

// Unit is one complete inbound request: a recording or a literal user utterance.
type Unit struct {
	Kind  UnitKind
	Audio []byte
	Text  string
}

// Envelope is one JSON message.
type Envelope struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Sentiment *int   `json:"sentiment,omitempty"`
	Error     string `json:"error,omitempty"`
}

type inboundEnvelope struct {
	Type *string `json:"type"`
	Data *string `json:"data"`
}

// DecodeEnvelope parses one inbound message into a Unit.
func DecodeEnvelope(raw []byte) (Unit, error) {
	var in inboundEnvelope
	if err := json.Unmarshal(raw, &in); err != nil {
		return Unit{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if in.Type == nil {
		return Unit{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if in.Data == nil {
		return Unit{}, fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}

	switch *in.Type {
	case TypeAudio:
		audio, err := hex.DecodeString(*in.Data)
		if err != nil {
			return Unit{}, fmt.Errorf("%w: audio is not hex: %v", ErrMalformedMessage, err)
		}
		return Unit{Kind: UnitAudio, Audio: audio}, nil
	case TypeText:
		return Unit{Kind: UnitText, Text: *in.Data}, nil
	default:
		return Unit{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, *in.Type)
	}
}

// EncodeEnvelope renders one outbound message.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// AudioResponse carries inline hex audio and its sentiment code.
func AudioResponse(audio []byte, code int) Envelope {
	return Envelope{Type: TypeAudioResponse, Data: hex.EncodeToString(audio), Sentiment: &code}
}

func TextReceive(text string) Envelope {
	return Envelope{Type: TypeTextReceive, Data: text}
}

func TextRespond(text string) Envelope {
	return Envelope{Type: TypeTextRespond, Data: text}
}

func StreamEnd() Envelope {
	return Envelope{Type: TypeStreamEnd}
}

func ErrorReply(msg string) Envelope {
	return Envelope{Type: TypeError, Error: msg}
}

// EncodeInbound renders a client request. Used by clients and tests.
func EncodeInbound(u Unit) ([]byte, error) {
	switch u.Kind {
	case UnitAudio:
		return json.Marshal(map[string]string{"type": TypeAudio, "data": hex.EncodeToString(u.Audio)})
	case UnitText:
		return json.Marshal(map[string]string{"type": TypeText, "data": u.Text})
	default:
		return nil, fmt.Errorf("%w: unit kind %v", ErrMalformedMessage, u.Kind)
	}
}
