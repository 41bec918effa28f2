// Package speech classifies finished utterances into priority buckets from
// their wall-clock duration: very short bursts are noise, short directed
// utterances are worth prioritizing, rambling is handled at normal priority.
package speech

import (
	"sync"
	"time"
)

// Priority is the bucket assigned to a finished utterance.
type Priority int

const (
	PrioritySkip Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PrioritySkip:
		return "skip"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

const (
	minUtterance  = 500 * time.Millisecond
	highLow       = 1500 * time.Millisecond
	highHigh      = 10 * time.Second
	staleDeadline = 30 * time.Second
)

// PenaltyChecker reports whether a speaker is currently suppressed. The
// throttle engine satisfies this.
type PenaltyChecker interface {
	PenaltyActive(speakerID string) bool
}

// BoundaryTracker records speaking-start timestamps per speaker and emits a
// priority when the matching end event arrives.
type BoundaryTracker struct {
	mu        sync.Mutex
	starts    map[string]time.Time
	penalties PenaltyChecker
	now       func() time.Time
}

func NewBoundaryTracker(penalties PenaltyChecker) *BoundaryTracker {
	return &BoundaryTracker{
		starts:    make(map[string]time.Time),
		penalties: penalties,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (t *BoundaryTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Begin records the speaking-start for a speaker. A duplicate start without
// an intervening end keeps the original timestamp.
func (t *BoundaryTracker) Begin(speakerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.starts[speakerID]; !ok {
		t.starts[speakerID] = t.now()
	}
}

// End closes the speaker's utterance and returns its priority. An end with
// no recorded start is classified as skip.
func (t *BoundaryTracker) End(speakerID string) Priority {
	t.mu.Lock()
	start, ok := t.starts[speakerID]
	if ok {
		delete(t.starts, speakerID)
	}
	now := t.now()
	t.mu.Unlock()
	if !ok {
		return PrioritySkip
	}
	if t.penalties != nil && t.penalties.PenaltyActive(speakerID) {
		return PrioritySkip
	}
	d := now.Sub(start)
	switch {
	case d < minUtterance:
		return PrioritySkip
	case d >= highLow && d <= highHigh:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Sweep drops start marks older than 30s with no matching end event. A
// crashed or disconnected speaker otherwise leaks a map entry forever.
// Returns the number of entries removed.
func (t *BoundaryTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for id, start := range t.starts {
		if now.Sub(start) > staleDeadline {
			delete(t.starts, id)
			removed++
		}
	}
	return removed
}

// Tracking reports whether a start mark exists for the speaker.
func (t *BoundaryTracker) Tracking(speakerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.starts[speakerID]
	return ok
}
