package presence

import (
	"testing"
	"time"
)

const window = 10 * time.Minute

func TestActiveCountEmptyChannel(t *testing.T) {
	tr := NewTracker()
	if got := tr.ActiveCount("chan1", time.Now(), window); got != 0 {
		t.Errorf("ActiveCount on empty channel = %d, want 0", got)
	}
}

func TestTouchCounts(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Touch("chan1", "u1", now)
	tr.Touch("chan1", "u2", now)
	tr.Touch("chan2", "u3", now)

	if got := tr.ActiveCount("chan1", now, window); got != 2 {
		t.Errorf("ActiveCount(chan1) = %d, want 2", got)
	}
	if got := tr.ActiveCount("chan2", now, window); got != 1 {
		t.Errorf("ActiveCount(chan2) = %d, want 1", got)
	}
}

func TestTouchUpserts(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Touch("chan1", "u1", now)
	tr.Touch("chan1", "u1", now.Add(time.Minute))

	if got := tr.ActiveCount("chan1", now.Add(time.Minute), window); got != 1 {
		t.Errorf("ActiveCount after re-touch = %d, want 1", got)
	}
}

func TestStaleEntriesNotCounted(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Touch("chan1", "u1", now)
	tr.Touch("chan1", "u2", now.Add(9*time.Minute))

	if got := tr.ActiveCount("chan1", now.Add(11*time.Minute), window); got != 1 {
		t.Errorf("ActiveCount = %d, want 1 (u1 is 11m old)", got)
	}
}

func TestStaleEntriesPurgedOnQuery(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Touch("chan1", "u1", now)
	tr.ActiveCount("chan1", now.Add(11*time.Minute), window)

	// u1 was purged; touching u2 and counting at the original time must not
	// resurrect u1 even though its old timestamp would still be in-window.
	tr.Touch("chan1", "u2", now)
	if got := tr.ActiveCount("chan1", now, window); got != 1 {
		t.Errorf("ActiveCount after purge = %d, want 1", got)
	}
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Touch("chan1", "u1", now)
	if got := tr.ActiveCount("chan1", now.Add(window), window); got != 0 {
		t.Errorf("entry aged exactly the window should be evicted, got count %d", got)
	}
}
