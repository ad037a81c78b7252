// Package presence tracks which speakers have been recently active per channel.
package presence

import (
	"sync"
	"time"
)

// Tracker maps channel -> speaker -> last-seen time. Stale entries are
// evicted eagerly when a channel is queried; there is no background sweep.
type Tracker struct {
	mu     sync.Mutex
	byChan map[string]map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{byChan: make(map[string]map[string]time.Time)}
}

// Touch records that speakerID spoke in channelID at now.
func (tr *Tracker) Touch(channelID, speakerID string, now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	speakers, ok := tr.byChan[channelID]
	if !ok {
		speakers = make(map[string]time.Time)
		tr.byChan[channelID] = speakers
	}
	speakers[speakerID] = now
}

// ActiveCount returns how many speakers were seen in channelID within the
// window ending at now, purging anything older as a side effect.
func (tr *Tracker) ActiveCount(channelID string, now time.Time, window time.Duration) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	speakers, ok := tr.byChan[channelID]
	if !ok {
		return 0
	}
	for id, seen := range speakers {
		if now.Sub(seen) >= window {
			delete(speakers, id)
		}
	}
	return len(speakers)
}
