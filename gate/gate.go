// Package gate decides whether the bot should answer a given message.
package gate

import (
	"math/rand/v2"
	"strings"
)

// DeclineSentinel is the exact string the model is instructed to emit when
// it chooses not to respond. It comes from untrusted generated text, so it
// is only honored on an exact match after trimming.
const DeclineSentinel = "[IGNORE]"

// Kind is the outcome class of a gate decision.
type Kind int

const (
	// MustReply means the bot answers unconditionally.
	MustReply Kind = iota
	// Probabilistic means the bot answers with Decision.Probability.
	Probabilistic
	// Suppress means the bot stays silent.
	Suppress
)

func (k Kind) String() string {
	switch k {
	case MustReply:
		return "must_reply"
	case Probabilistic:
		return "probabilistic"
	default:
		return "suppress"
	}
}

// Decision is the pre-generation gate outcome for one message.
type Decision struct {
	Kind        Kind
	Probability float64 // set when Kind == Probabilistic
	Welcome     bool    // set when the speaker is new to the transcript
}

// Context carries the per-message inputs Decide needs.
type Context struct {
	NewParticipant  bool // speaker absent from the transcript's user turns
	Addressed       bool // mention or persona-name match
	TranscriptParty int  // distinct participants in the transcript, agent included
	ActiveCount     int  // recent speakers per the participant window
}

// Gate evaluates reply decisions. The random source is injectable so the
// probabilistic branch can be tested deterministically.
type Gate struct {
	bias float64
	rand func() float64
}

// New creates a gate with the given reply bias (the k in p = k/(n-1)).
func New(bias float64) *Gate {
	return &Gate{bias: bias, rand: rand.Float64}
}

// Decide returns the pre-generation decision for a message.
// Priority order: new participant, explicit address, one-on-one
// conversation, then probabilistic group participation.
func (g *Gate) Decide(c Context) Decision {
	switch {
	case c.NewParticipant:
		return Decision{Kind: MustReply, Welcome: true}
	case c.Addressed:
		return Decision{Kind: MustReply}
	case c.TranscriptParty == 2:
		return Decision{Kind: MustReply}
	default:
		return Decision{Kind: Probabilistic, Probability: ReplyProbability(g.bias, c.ActiveCount)}
	}
}

// Allow resolves a decision to a yes/no, drawing against the probability
// for the probabilistic kind.
func (g *Gate) Allow(d Decision) bool {
	switch d.Kind {
	case MustReply:
		return true
	case Probabilistic:
		return g.rand() < d.Probability
	default:
		return false
	}
}

// ReplyProbability is the group-participation policy:
// p = min(1, bias / max(1, activeCount-1)). The divisor is the number of
// *other* participants, floored at 1 so a fresh tracker cannot divide by zero.
func ReplyProbability(bias float64, activeCount int) float64 {
	others := activeCount - 1
	if others < 1 {
		others = 1
	}
	p := bias / float64(others)
	if p > 1 {
		p = 1
	}
	return p
}

// IsAddressed reports whether a message is directed at the persona, either
// by Discord mention or by a case-insensitive name/alias substring.
func IsAddressed(content string, mentioned bool, personaName string, aliases []string) bool {
	if mentioned {
		return true
	}
	lower := strings.ToLower(content)
	if personaName != "" && strings.Contains(lower, strings.ToLower(personaName)) {
		return true
	}
	for _, a := range aliases {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// IsDecline reports whether generated text is the decline sentinel.
// A reply that merely contains the token keeps flowing; only a reply that
// *is* the token (after trimming) is swallowed.
func IsDecline(raw string) bool {
	return strings.TrimSpace(raw) == DeclineSentinel
}
