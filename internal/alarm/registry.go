package alarm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taskbell/pkg/clock"
)

// Phase is the edge of a task window an alarm is bound to.
type Phase uint8

const (
	PhaseStart Phase = iota + 1
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseEnd:
		return "end"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Key identifies at most one pending one-shot alarm.
type Key struct {
	TaskID int64
	Phase  Phase
}

func (k Key) String() string { return fmt.Sprintf("%d-%s", k.TaskID, k.Phase) }

const (
	statePending int32 = iota
	stateFired
	stateCancelled
)

type entry struct {
	key   Key
	at    time.Time
	timer clock.Timer
	state atomic.Int32
}

// cancel reports whether the callback was prevented from running.
func (e *entry) cancel() bool {
	if !e.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// Registry maps alarm keys to pending one-shot timers.
//
// Each entry moves from pending to exactly one of fired or cancelled, so a
// cancel racing the timer either wins (callback never runs) or loses (callback
// runs once). Callbacks run outside the registry lock.
type Registry struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[Key]*entry
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{clk: clk, entries: map[Key]*entry{}}
}

// Schedule installs fn to run at or after fireAt, replacing any pending alarm
// for key. A fireAt in the past fires immediately.
func (r *Registry) Schedule(key Key, fireAt time.Time, fn func()) {
	e := &entry{key: key, at: fireAt}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.entries[key]; old != nil {
		old.cancel()
	}
	r.entries[key] = e
	// fire only reads e.state, never e.timer. cancel reads e.timer after
	// winning the state swap, and always under r.mu, so it sees the timer
	// assigned here.
	e.timer = r.clk.AfterFunc(fireAt.Sub(r.clk.Now()), func() { r.fire(e, fn) })
}

func (r *Registry) fire(e *entry, fn func()) {
	if !e.state.CompareAndSwap(statePending, stateFired) {
		return
	}
	r.mu.Lock()
	if r.entries[e.key] == e {
		delete(r.entries, e.key)
	}
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Cancel removes the pending alarm for key. Absent keys are ignored.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	e := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if e == nil {
		return false
	}
	return e.cancel()
}

// CancelAll cancels every pending alarm and empties the registry. It returns
// how many callbacks were prevented.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	old := r.entries
	r.entries = make(map[Key]*entry, len(old))
	r.mu.Unlock()

	n := 0
	for _, e := range old {
		if e.cancel() {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Has reports whether key has a pending alarm.
func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// PendingAlarm is a read-only view of a registry entry.
type PendingAlarm struct {
	Key Key       `json:"key"`
	At  time.Time `json:"at"`
}

// Pending lists pending alarms ordered by fire time, then key.
func (r *Registry) Pending() []PendingAlarm {
	r.mu.Lock()
	out := make([]PendingAlarm, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, PendingAlarm{Key: k, At: e.at})
	}
	r.mu.Unlock()
	sortPending(out)
	return out
}

func sortPending(out []PendingAlarm) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].Key.TaskID != out[j].Key.TaskID {
			return out[i].Key.TaskID < out[j].Key.TaskID
		}
		return out[i].Key.Phase < out[j].Key.Phase
	})
}
