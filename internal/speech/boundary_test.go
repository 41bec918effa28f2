package speech

import (
	"testing"
	"time"
)

type fakePenalties struct {
	active map[string]bool
}

func (f *fakePenalties) PenaltyActive(id string) bool { return f.active[id] }

func trackerAt(start time.Time) (*BoundaryTracker, *time.Time) {
	now := start
	tr := NewBoundaryTracker(&fakePenalties{active: map[string]bool{}})
	tr.SetClock(func() time.Time { return now })
	return tr, &now
}

func TestPriorityBuckets(t *testing.T) {
	cases := []struct {
		name string
		dur  time.Duration
		want Priority
	}{
		{"cough", 300 * time.Millisecond, PrioritySkip},
		{"directed", 1800 * time.Millisecond, PriorityHigh},
		{"rambling", 20 * time.Second, PriorityNormal},
		{"just under high", 1400 * time.Millisecond, PriorityNormal},
		{"exactly min", 500 * time.Millisecond, PriorityNormal},
		{"exactly high low", 1500 * time.Millisecond, PriorityHigh},
		{"exactly high high", 10 * time.Second, PriorityHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, now := trackerAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
			tr.Begin("alice")
			*now = now.Add(tc.dur)
			if got := tr.End("alice"); got != tc.want {
				t.Fatalf("End after %v = %v, want %v", tc.dur, got, tc.want)
			}
		})
	}
}

func TestPenaltyForcesSkip(t *testing.T) {
	pen := &fakePenalties{active: map[string]bool{"alice": true}}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewBoundaryTracker(pen)
	tr.SetClock(func() time.Time { return now })

	tr.Begin("alice")
	now = now.Add(2 * time.Second)
	if got := tr.End("alice"); got != PrioritySkip {
		t.Fatalf("penalized speaker = %v, want skip", got)
	}
}

func TestEndWithoutStartIsSkip(t *testing.T) {
	tr, _ := trackerAt(time.Now())
	if got := tr.End("ghost"); got != PrioritySkip {
		t.Fatalf("End without Begin = %v, want skip", got)
	}
}

func TestDuplicateStartKeepsOriginalTimestamp(t *testing.T) {
	tr, now := trackerAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr.Begin("alice")
	*now = now.Add(1600 * time.Millisecond)
	tr.Begin("alice") // duplicate, must not restart the clock
	*now = now.Add(400 * time.Millisecond)
	if got := tr.End("alice"); got != PriorityHigh {
		t.Fatalf("duplicate start changed bucket: got %v, want high", got)
	}
}

func TestSweepRemovesStaleStarts(t *testing.T) {
	tr, now := trackerAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr.Begin("stale")
	*now = now.Add(31 * time.Second)
	tr.Begin("fresh")

	if removed := tr.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if tr.Tracking("stale") {
		t.Fatal("stale start should be gone")
	}
	if !tr.Tracking("fresh") {
		t.Fatal("fresh start should remain")
	}
}
