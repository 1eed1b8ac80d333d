// Package clock abstracts wall-clock time so timer-driven code can be tested
// deterministically.
//
// Real() is backed by the time package. NewFake() returns a manually advanced
// clock whose timers only fire from Advance/Set, never from the goroutine that
// registered them.
package clock

import "time"

// Clock is the subset of the time package used by the alarm scheduler.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real clock) or from Advance (fake clock)
	// once d has elapsed. A negative d is treated as zero.
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop reports whether the call prevented the timer from firing.
	Stop() bool
}

// Ticker delivers ticks on C() until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real returns the process wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
