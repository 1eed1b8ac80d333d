package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually driven Clock.
//
// Timers registered with AfterFunc fire synchronously from Advance/Set, in
// (deadline, registration order). Tickers deliver at most one buffered tick;
// extra ticks are dropped like time.Ticker does for slow receivers.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	clk    *Fake
	seq    uint64
	at     time.Time
	fn     func()
	period time.Duration // >0 for tickers
	ch     chan time.Time
	dead   bool
}

// NewFake returns a fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{clk: f, at: f.now.Add(d), fn: fn}
	f.addLocked(w)
	return fakeTimer{w}
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{clk: f, at: f.now.Add(d), period: d, ch: make(chan time.Time, 1)}
	f.addLocked(w)
	return fakeTicker{w}
}

// Pending reports how many timers and tickers are still armed.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Advance moves the clock forward by d, firing everything that becomes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.Set(target)
}

// Set moves the clock to t (never backwards), firing everything due at or before t.
func (f *Fake) Set(t time.Time) {
	for {
		f.mu.Lock()
		if len(f.waiters) == 0 || f.waiters[0].at.After(t) {
			if t.After(f.now) {
				f.now = t
			}
			f.mu.Unlock()
			return
		}
		w := f.waiters[0]
		f.waiters = f.waiters[1:]
		if w.at.After(f.now) {
			f.now = w.at
		}
		now := f.now
		if w.period > 0 {
			w.at = w.at.Add(w.period)
			f.addLocked(w)
		} else {
			w.dead = true
		}
		f.mu.Unlock()

		if w.period > 0 {
			select {
			case w.ch <- now:
			default:
			}
			continue
		}
		if w.fn != nil {
			w.fn()
		}
	}
}

func (f *Fake) addLocked(w *fakeWaiter) {
	f.seq++
	w.seq = f.seq
	f.waiters = append(f.waiters, w)
	sort.SliceStable(f.waiters, func(i, j int) bool {
		if f.waiters[i].at.Equal(f.waiters[j].at) {
			return f.waiters[i].seq < f.waiters[j].seq
		}
		return f.waiters[i].at.Before(f.waiters[j].at)
	})
}

func (f *Fake) removeLocked(w *fakeWaiter) bool {
	for i, x := range f.waiters {
		if x == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (w *fakeWaiter) stop() bool {
	w.clk.mu.Lock()
	defer w.clk.mu.Unlock()
	if w.dead {
		return false
	}
	w.dead = true
	return w.clk.removeLocked(w)
}

type fakeTimer struct{ w *fakeWaiter }

func (t fakeTimer) Stop() bool { return t.w.stop() }

type fakeTicker struct{ w *fakeWaiter }

func (t fakeTicker) C() <-chan time.Time { return t.w.ch }
func (t fakeTicker) Stop()               { t.w.stop() }
