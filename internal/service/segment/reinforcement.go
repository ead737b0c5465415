package segment

// DefaultReinforcementEvery is how often the persona preamble is resent to a stateless backend.
const DefaultReinforcementEvery = 5

// Reinforcement periodically prepends the persona preamble to the user's text for
// backends that keep no conversation memory of their own.
type Reinforcement struct {
	Preamble string
	Every    int
	// Stateless enables the policy; stateful backends always get the text unmodified.
	Stateless bool
}

// Due reports whether exchange n, counted from 1, carries the preamble.
func (r Reinforcement) Due(n int) bool {
	if !r.Stateless || r.Preamble == "" || n <= 0 {
		return false
	}
	every := r.Every
	if every <= 0 {
		every = DefaultReinforcementEvery
	}
	return n%every == 0
}

// Apply returns the text to send to the backend for exchange n.
func (r Reinforcement) Apply(n int, text string) string {
	if !r.Due(n) {
		return text
	}
	return r.Preamble + "\n" + text
}
