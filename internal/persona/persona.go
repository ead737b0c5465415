// Package persona holds the characters the relay can speak as.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ai-voice-relay-service/internal/service/tts"
)

var ErrUnknownPersona = errors.New("unknown persona")

// Persona is one selectable character: the identifier greeted to clients, its
// voice model, and the style preamble used to keep a stateless backend in character.
type Persona struct {
	Name       string    `json:"name"`
	Identifier string    `json:"identifier"`
	Voice      tts.Voice `json:"voice"`
	Preamble   string    `json:"-"`
}

var table = map[string]Persona{
	"paimon": {
		Name:       "paimon",
		Identifier: "character_paimon",
		Voice:      tts.Voice{Config: "TTS/models/paimon6k.json", Model: "TTS/models/paimon6k_390k.pth", Speed: 1},
	},
	"yunfei": {
		Name:       "yunfei",
		Identifier: "character_yunfei",
		Voice:      tts.Voice{Config: "TTS/models/yunfeimix2.json", Model: "TTS/models/yunfeimix2_53k.pth", Speed: 1.1},
	},
	"catmaid": {
		Name:       "catmaid",
		Identifier: "character_catmaid",
		Voice:      tts.Voice{Config: "TTS/models/catmix.json", Model: "TTS/models/catmix_107k.pth", Speed: 1.2},
	},
}

// Lookup returns the built-in persona with the given name.
func Lookup(name string) (Persona, error) {
	p, ok := table[strings.ToLower(name)]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, name)
	}
	return p, nil
}

// All returns every built-in persona sorted by name.
func All() []Persona {
	out := make([]Persona, 0, len(table))
	for _, p := range table {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load looks up a persona and reads its preamble from <promptDir>/<name>.txt.
// A missing prompt file leaves the preamble empty.
func Load(name, promptDir string) (Persona, error) {
	p, err := Lookup(name)
	if err != nil {
		return Persona{}, err
	}
	if promptDir == "" {
		return p, nil
	}
	b, err := os.ReadFile(filepath.Join(promptDir, p.Name+".txt"))
	switch {
	case err == nil:
		p.Preamble = strings.TrimSpace(string(b))
	case errors.Is(err, os.ErrNotExist):
	default:
		return Persona{}, fmt.Errorf("read preamble for %s: %w", p.Name, err)
	}
	return p, nil
}
