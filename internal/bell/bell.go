// Package bell rings the terminal bell for continuous alerts.
package bell

import (
	"io"
	"sync"
	"sync/atomic"

	"taskbell/internal/eventbus"
	logx "taskbell/pkg/logx"

	"golang.org/x/time/rate"
)

// BEL is the ASCII bell character.
const BEL = "\a"

type Config struct {
	Enabled bool
	// RatePerSec caps rings across all tasks; <= 0 means unlimited.
	RatePerSec int
}

// TickEvent is the payload of eventbus.TypeAlertTick.
type TickEvent struct {
	TaskID int64  `json:"task_id"`
	N      uint64 `json:"n"`
	Rung   bool   `json:"rung"`
}

// Bell writes BEL on every allowed tick. Safe for concurrent use; ticks from
// many workers share one limiter.
type Bell struct {
	w   io.Writer
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	enabled bool
	limiter *rate.Limiter

	rung       atomic.Uint64
	suppressed atomic.Uint64
}

func New(cfg Config, w io.Writer, log logx.Logger, bus eventbus.Bus) *Bell {
	if bus == nil {
		bus = eventbus.Nop()
	}
	b := &Bell{w: w, log: log, bus: bus}
	b.Apply(cfg)
	return b
}

// Apply swaps the settings at runtime.
func (b *Bell) Apply(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = cfg.Enabled
	if cfg.RatePerSec <= 0 {
		b.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	b.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Tick matches alarm.TickFunc. It never blocks on the limiter: a tick over
// the rate is dropped.
func (b *Bell) Tick(taskID int64, n uint64) {
	b.mu.Lock()
	enabled := b.enabled
	lim := b.limiter
	b.mu.Unlock()

	rung := false
	if enabled && b.w != nil && lim.Allow() {
		if _, err := io.WriteString(b.w, BEL); err != nil {
			b.log.Debug("bell write failed", logx.Int64("task_id", taskID), logx.Err(err))
		} else {
			rung = true
		}
	}
	if rung {
		b.rung.Add(1)
	} else {
		b.suppressed.Add(1)
	}
	b.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAlertTick,
		Data: TickEvent{TaskID: taskID, N: n, Rung: rung},
	})
}

// Counts returns how many ticks rang and how many were suppressed.
func (b *Bell) Counts() (rung, suppressed uint64) {
	return b.rung.Load(), b.suppressed.Load()
}
