// Package history keeps per-channel conversation transcripts with lazy expiry.
package history

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is a single utterance in a transcript. Speaker carries the display
// name explicitly; the `User "name": "text"` framing used on the wire to the
// generation API is a serialization concern, not part of this type.
type Turn struct {
	Role    Role
	Speaker string
	Text    string
}

// Transcript is the ordered conversation record for one channel.
// It must only be mutated through Store.Append.
type Transcript struct {
	turns        []Turn
	lastMutation time.Time
}

// Turns returns a copy of the turn sequence, so callers cannot mutate the
// transcript behind the store's back.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Participants returns the distinct set of speakers seen in user turns,
// plus the agent itself under personaName.
func (t *Transcript) Participants(personaName string) map[string]bool {
	set := map[string]bool{personaName: true}
	for _, turn := range t.turns {
		if turn.Role == RoleUser && turn.Speaker != "" {
			set[turn.Speaker] = true
		}
	}
	return set
}

// Store holds one transcript per channel. All methods are safe for
// concurrent use; transcripts live until the process exits or they expire.
type Store struct {
	mu      sync.Mutex
	timeout time.Duration
	byChan  map[string]*Transcript
}

// NewStore creates a store whose transcripts expire after timeout without a
// mutation.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		timeout: timeout,
		byChan:  make(map[string]*Transcript),
	}
}

// GetOrCreate returns the channel's transcript, creating a fresh one from a
// deep copy of seed when none exists or the previous one has expired. The
// seed slice is never aliased, so channels cannot share mutable turns.
func (s *Store) GetOrCreate(channelID string, seed []Turn, now time.Time) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byChan[channelID]
	if !ok || now.Sub(t.lastMutation) > s.timeout {
		t = &Transcript{
			turns:        append([]Turn(nil), seed...),
			lastMutation: now,
		}
		s.byChan[channelID] = t
	}
	return t
}

// Append adds a turn to the channel's transcript and refreshes its
// last-mutation time. Appending to a channel with no transcript is a no-op;
// callers must GetOrCreate first.
func (s *Store) Append(channelID string, turn Turn, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byChan[channelID]
	if !ok {
		return
	}
	t.turns = append(t.turns, turn)
	t.lastMutation = now
}

// IsExpired reports whether the channel's transcript is absent or past the
// store timeout as of now.
func (s *Store) IsExpired(channelID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byChan[channelID]
	if !ok {
		return true
	}
	return now.Sub(t.lastMutation) > s.timeout
}
