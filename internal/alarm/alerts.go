package alarm

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taskbell/internal/eventbus"
	"taskbell/internal/runtime/supervisor"
	"taskbell/pkg/clock"
	logx "taskbell/pkg/logx"
)

// DefaultTickInterval is the continuous-alert period.
const DefaultTickInterval = time.Second

// TickFunc is invoked by a continuous-alert worker on every tick. n starts at 1.
type TickFunc func(taskID int64, n uint64)

// StopReason says why a continuous-alert worker ended.
type StopReason string

const (
	StopRequested StopReason = "stopped"
	StopDeadline  StopReason = "deadline"
	StopClosed    StopReason = "closed"
)

type worker struct {
	taskID    int64
	deadline  time.Time
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	ticks     atomic.Uint64
}

// Alerts runs at most one repeating alert worker per task id.
//
// The registry holds only the worker handle (cancel func + deadline). Stop
// cancels and returns immediately; the goroutine notices on its next wake, so
// a tick already in progress may complete.
type Alerts struct {
	clk      clock.Clock
	interval time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	sup      *supervisor.Supervisor

	mu      sync.Mutex
	closed  bool
	workers map[int64]*worker
}

// NewAlerts creates the registry. Workers run under their own supervisor,
// which Close stops.
func NewAlerts(clk clock.Clock, interval time.Duration, log logx.Logger, bus eventbus.Bus) *Alerts {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Alerts{
		clk:      clk,
		interval: interval,
		log:      log,
		bus:      bus,
		sup:      supervisor.New(context.Background(), supervisor.WithLogger(log)),
		workers:  map[int64]*worker{},
	}
}

// Start launches a worker for taskID that calls onTick immediately and then
// every interval until endAt or Stop. It is a no-op (false) when a worker for
// taskID already exists, when endAt is not in the future, or after Close.
func (a *Alerts) Start(taskID int64, endAt time.Time, onTick TickFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	if _, ok := a.workers[taskID]; ok {
		return false
	}
	now := a.clk.Now()
	if !now.Before(endAt) {
		return false
	}

	ctx, cancel := context.WithCancel(a.sup.Context())
	w := &worker{taskID: taskID, deadline: endAt, startedAt: now, ctx: ctx, cancel: cancel}
	a.workers[taskID] = w

	// Both are armed here, not in the goroutine, so the set of live timers is
	// known as soon as Start returns.
	ticker := a.clk.NewTicker(a.interval)
	expiry := a.clk.AfterFunc(endAt.Sub(now), func() { a.expire(w) })

	a.sup.Go0("alert.worker", func(context.Context) {
		defer ticker.Stop()
		defer expiry.Stop()
		a.run(w, ticker, onTick)
	})

	a.log.Debug("alert started", logx.Int64("task_id", taskID), logx.Time("until", endAt))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertStarted, Data: taskID})
	return true
}

func (a *Alerts) run(w *worker, ticker clock.Ticker, onTick TickFunc) {
	tick := func() bool {
		if w.ctx.Err() != nil {
			return false
		}
		if !a.clk.Now().Before(w.deadline) {
			a.expire(w)
			return false
		}
		n := w.ticks.Add(1)
		if onTick != nil {
			onTick(w.taskID, n)
		}
		return true
	}

	if !tick() {
		return
	}
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C():
			if !tick() {
				return
			}
		}
	}
}

// expire ends w at its deadline. It only removes the registry entry if it
// still belongs to w.
func (a *Alerts) expire(w *worker) {
	if w.ctx.Err() != nil {
		return
	}
	w.cancel()
	if a.remove(w) {
		a.stopped(w, StopDeadline)
	}
}

func (a *Alerts) remove(w *worker) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.workers[w.taskID] != w {
		return false
	}
	delete(a.workers, w.taskID)
	return true
}

func (a *Alerts) stopped(w *worker, reason StopReason) {
	a.log.Debug("alert stopped",
		logx.Int64("task_id", w.taskID),
		logx.String("reason", string(reason)),
		logx.Uint64("ticks", w.ticks.Load()),
	)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertStopped, Data: w.taskID})
}

// Stop cancels the worker for taskID without waiting for it to exit.
// It reports whether a worker was registered.
func (a *Alerts) Stop(taskID int64) bool {
	a.mu.Lock()
	w := a.workers[taskID]
	delete(a.workers, taskID)
	a.mu.Unlock()
	if w == nil {
		return false
	}
	w.cancel()
	a.stopped(w, StopRequested)
	return true
}

// StopAll stops every worker and returns how many were registered.
func (a *Alerts) StopAll() int {
	a.mu.Lock()
	old := a.workers
	a.workers = map[int64]*worker{}
	a.mu.Unlock()
	for _, w := range old {
		w.cancel()
		a.stopped(w, StopRequested)
	}
	return len(old)
}

// Running reports whether taskID has a registered worker.
func (a *Alerts) Running(taskID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.workers[taskID]
	return ok
}

// Deadline returns the end time the running worker for taskID was started with.
func (a *Alerts) Deadline(taskID int64) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.workers[taskID]
	if !ok {
		return time.Time{}, false
	}
	return w.deadline, true
}

// IDs lists task ids with a registered worker, ascending.
func (a *Alerts) IDs() []int64 {
	a.mu.Lock()
	out := make([]int64, 0, len(a.workers))
	for id := range a.workers {
		out = append(out, id)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Alerts) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.workers)
}

// WorkerInfo is a read-only view of a running worker.
type WorkerInfo struct {
	TaskID    int64     `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
	Ticks     uint64    `json:"ticks"`
}

func (a *Alerts) Workers() []WorkerInfo {
	a.mu.Lock()
	out := make([]WorkerInfo, 0, len(a.workers))
	for _, w := range a.workers {
		out = append(out, WorkerInfo{TaskID: w.taskID, StartedAt: w.startedAt, Deadline: w.deadline, Ticks: w.ticks.Load()})
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Close stops every worker, refuses new ones, and waits (bounded by ctx) for
// the goroutines to exit.
func (a *Alerts) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	old := a.workers
	a.workers = map[int64]*worker{}
	a.mu.Unlock()
	for _, w := range old {
		w.cancel()
		a.stopped(w, StopClosed)
	}
	return a.sup.Stop(ctx)
}

// wait blocks until every worker goroutine has exited.
func (a *Alerts) wait(ctx context.Context) error {
	return a.sup.Wait(ctx)
}

func (a *Alerts) supervisorCounters() supervisor.Counters { return a.sup.Counters() }
