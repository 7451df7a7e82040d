package kg

import (
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStateTracker_Durations(t *testing.T) {
	clock := &fakeClock{now: t0}
	tr := newStateTracker(clock.Now)

	clock.Advance(2 * time.Second)
	prev := tr.Enter(ActivityProcessing)
	if prev != ActivityIdle {
		t.Errorf("Enter() returned %s, want idle", prev)
	}

	clock.Advance(300 * time.Millisecond)
	tr.Enter(ActivityQuerying)
	clock.Advance(100 * time.Millisecond)
	tr.Enter(ActivityProcessing)
	clock.Advance(50 * time.Millisecond)
	tr.Enter(ActivityIdle)
	clock.Advance(time.Second)

	got := tr.Durations()
	want := map[Activity]time.Duration{
		ActivityIdle:       3 * time.Second,
		ActivityProcessing: 350 * time.Millisecond,
		ActivityQuerying:   100 * time.Millisecond,
	}
	for a, d := range want {
		if got[a] != d {
			t.Errorf("Durations()[%s] = %v, want %v", a, got[a], d)
		}
	}
	if tr.Current() != ActivityIdle {
		t.Errorf("Current() = %s, want idle", tr.Current())
	}
}

func TestStateTracker_History(t *testing.T) {
	clock := &fakeClock{now: t0}
	tr := newStateTracker(clock.Now)

	clock.Advance(time.Second)
	tr.Enter(ActivityProcessing)
	tr.Enter(ActivityProcessing) // no change, not logged
	clock.Advance(time.Second)
	tr.Enter(ActivityIdle)

	history := tr.History()
	if len(history) != 3 {
		t.Fatalf("History() has %d entries, want 3", len(history))
	}
	wantStates := []Activity{ActivityIdle, ActivityProcessing, ActivityIdle}
	wantOffsets := []time.Duration{0, time.Second, 2 * time.Second}
	for i, c := range history {
		if c.State != wantStates[i] || c.Offset != wantOffsets[i] {
			t.Errorf("History()[%d] = %+v, want %s at %v", i, c, wantStates[i], wantOffsets[i])
		}
	}
}

func TestStateTracker_BoundedHistory(t *testing.T) {
	tr := newStateTracker((&fakeClock{now: t0}).Now)
	for i := range maxStateHistory + 10 {
		tr.Enter(Activity(1 + i%2))
	}
	if got := len(tr.History()); got != maxStateHistory {
		t.Errorf("History() length = %d, want %d", got, maxStateHistory)
	}
}

func TestActivity_String(t *testing.T) {
	tests := map[Activity]string{
		ActivityIdle:       "idle",
		ActivityProcessing: "processing",
		ActivityQuerying:   "querying",
		Activity(7):        "unknown",
	}
	for a, want := range tests {
		if got := a.String(); got != want {
			t.Errorf("Activity(%d).String() = %q, want %q", int(a), got, want)
		}
	}
}
