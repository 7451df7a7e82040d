package kg

import (
	"sync"
	"time"
)

// Activity is what the message pipeline is doing at a given moment.
type Activity int

// Pipeline activities. The numeric values are written to states.csv.
const (
	ActivityIdle Activity = iota
	ActivityProcessing
	ActivityQuerying
)

var activityNames = [...]string{"idle", "processing", "querying"}

// String implements fmt.Stringer.
func (a Activity) String() string {
	if a < 0 || int(a) >= len(activityNames) {
		return "unknown"
	}
	return activityNames[a]
}

// maxStateHistory bounds the change log kept for states.csv.
const maxStateHistory = 10000

// StateChange is one entry of the activity log.
type StateChange struct {
	// Offset is the time since the tracker was created.
	Offset time.Duration
	State  Activity
}

// StateTracker accumulates how long the pipeline spends idle, processing
// messages and waiting on the graph store.
//
// Thread Safety: all methods are safe for concurrent use.
type StateTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	start   time.Time
	current Activity
	since   time.Time
	totals  [len(activityNames)]time.Duration
	history []StateChange
}

// NewStateTracker creates a tracker that starts idle.
func NewStateTracker() *StateTracker {
	return newStateTracker(time.Now)
}

func newStateTracker(now func() time.Time) *StateTracker {
	start := now()
	return &StateTracker{
		now:     now,
		start:   start,
		since:   start,
		history: []StateChange{{Offset: 0, State: ActivityIdle}},
	}
}

// Enter switches to a and returns the previous activity so callers can
// restore it.
func (t *StateTracker) Enter(a Activity) Activity {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.current
	if a == prev {
		return prev
	}

	now := t.now()
	t.totals[prev] += now.Sub(t.since)
	t.current = a
	t.since = now

	if len(t.history) == maxStateHistory {
		t.history = append(t.history[:0], t.history[1:]...)
	}
	t.history = append(t.history, StateChange{Offset: now.Sub(t.start), State: a})
	return prev
}

// Current returns the current activity.
func (t *StateTracker) Current() Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Durations returns the accumulated time per activity, including the time
// spent in the current one so far.
func (t *StateTracker) Durations() map[Activity]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Activity]time.Duration, len(t.totals))
	for i, d := range t.totals {
		out[Activity(i)] = d
	}
	out[t.current] += t.now().Sub(t.since)
	return out
}

// History returns a copy of the most recent activity changes, oldest first.
func (t *StateTracker) History() []StateChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StateChange, len(t.history))
	copy(out, t.history)
	return out
}
