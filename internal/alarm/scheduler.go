// Package alarm turns a task snapshot into one-shot start/end alarms and
// continuous alerts for tasks inside their window.
//
// Every Reconcile is a full derivation pass: all pending alarms are cancelled
// and recomputed from (tasks, now). Continuous-alert workers survive a pass
// when their task is still inside the same window.
package alarm

import (
	"context"
	"sync"
	"time"

	"taskbell/internal/eventbus"
	"taskbell/internal/notifier"
	"taskbell/internal/task"
	"taskbell/pkg/clock"
	logx "taskbell/pkg/logx"
)

// Notifier receives start/end notifications. Implementations must not block;
// the returned error is logged and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type NotifierFunc func(ctx context.Context, n notifier.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n notifier.Notification) error { return f(ctx, n) }

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }

func WithTickInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithOnTick sets what continuous-alert workers do on every tick.
func WithOnTick(fn TickFunc) Option { return func(s *Scheduler) { s.onTick = fn } }

// Result summarizes one Reconcile pass.
type Result struct {
	At               time.Time `json:"at"`
	Tasks            int       `json:"tasks"`
	Cancelled        int       `json:"cancelled"`
	Scheduled        int       `json:"scheduled"`
	WorkersStarted   int       `json:"workers_started"`
	WorkersRestarted int       `json:"workers_restarted"`
	WorkersStopped   int       `json:"workers_stopped"`
}

// Snapshot is a point-in-time view of the scheduler registries.
type Snapshot struct {
	LastReconcile time.Time      `json:"last_reconcile"`
	LastResult    Result         `json:"last_result"`
	Passes        uint64         `json:"passes"`
	Pending       []PendingAlarm `json:"pending"`
	Workers       []WorkerInfo   `json:"workers"`
}

// Scheduler owns the alarm registry and the continuous-alert registry.
type Scheduler struct {
	clk      clock.Clock
	notify   Notifier
	log      logx.Logger
	bus      eventbus.Bus
	interval time.Duration
	onTick   TickFunc

	alarms *Registry
	alerts *Alerts

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes passes; timer callbacks never take it.
	mu     sync.Mutex
	last   Result
	passes uint64
}

func New(clk clock.Clock, n Notifier, opts ...Option) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Scheduler{clk: clk, notify: n, interval: DefaultTickInterval}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.alarms = NewRegistry(clk)
	s.alerts = NewAlerts(clk, s.interval, s.log.With(logx.String("comp", "alerts")), s.bus)
	return s
}

func (s *Scheduler) Alarms() *Registry { return s.alarms }

func (s *Scheduler) Alerts() *Alerts { return s.alerts }

// Reconcile runs one derivation pass over the full task list at now.
//
// tasks must be the unfiltered list: workers whose task is absent are stopped.
func (s *Scheduler) Reconcile(tasks []task.Task, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{At: now, Tasks: len(tasks)}
	res.Cancelled = s.alarms.CancelAll()

	plan := Derive(tasks, now)
	for _, a := range plan.Actions {
		a := a
		switch a.Kind {
		case ActionStopWorker:
			if s.alerts.Stop(a.TaskID) {
				res.WorkersStopped++
			}
		case ActionScheduleStart:
			s.alarms.Schedule(Key{TaskID: a.TaskID, Phase: PhaseStart}, a.At, func() { s.fireStart(a) })
			res.Scheduled++
		case ActionScheduleEnd:
			s.alarms.Schedule(Key{TaskID: a.TaskID, Phase: PhaseEnd}, a.At, func() { s.fireEnd(a) })
			res.Scheduled++
		case ActionEnsureWorker:
			if dl, ok := s.alerts.Deadline(a.TaskID); ok {
				if dl.Equal(a.EndAt) {
					continue
				}
				// The window was edited while the worker was running.
				s.alerts.Stop(a.TaskID)
				if s.alerts.Start(a.TaskID, a.EndAt, s.onTick) {
					res.WorkersRestarted++
				}
				continue
			}
			if s.alerts.Start(a.TaskID, a.EndAt, s.onTick) {
				res.WorkersStarted++
			}
		}
	}

	// Workers of tasks that were deleted or moved out of their window.
	active := plan.Active()
	for _, id := range s.alerts.IDs() {
		if _, ok := active[id]; ok {
			continue
		}
		if s.alerts.Stop(id) {
			res.WorkersStopped++
		}
	}

	s.last = res
	s.passes++

	s.log.Debug("reconciled",
		logx.Int("tasks", res.Tasks),
		logx.Int("cancelled", res.Cancelled),
		logx.Int("scheduled", res.Scheduled),
		logx.Int("workers_started", res.WorkersStarted),
		logx.Int("workers_restarted", res.WorkersRestarted),
		logx.Int("workers_stopped", res.WorkersStopped),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeReconciled, Data: res})
	return res
}

func (s *Scheduler) fireStart(a Action) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmFired, Data: Key{TaskID: a.TaskID, Phase: PhaseStart}})
	s.send(notifier.Notification{
		Kind:     notifier.KindTaskStart,
		TaskID:   a.TaskID,
		Title:    "Task Start",
		Message:  "Task started: " + a.Name,
		Priority: 5,
	})
	s.alerts.Start(a.TaskID, a.EndAt, s.onTick)
}

func (s *Scheduler) fireEnd(a Action) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmFired, Data: Key{TaskID: a.TaskID, Phase: PhaseEnd}})
	s.alerts.Stop(a.TaskID)
	s.send(notifier.Notification{
		Kind:     notifier.KindTaskEnd,
		TaskID:   a.TaskID,
		Title:    "Task End",
		Message:  "Task ended: " + a.Name,
		Priority: 5,
	})
}

func (s *Scheduler) send(n notifier.Notification) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(s.ctx, n); err != nil {
		s.log.Warn("notify failed", logx.Int64("task_id", n.TaskID), logx.String("kind", string(n.Kind)), logx.Err(err))
	}
}

// StopTask stops the worker of taskID right away. Callers use it before
// completing or deleting a task; the next Reconcile drops its alarms.
func (s *Scheduler) StopTask(taskID int64) bool {
	return s.alerts.Stop(taskID)
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	last := s.last
	passes := s.passes
	s.mu.Unlock()
	return Snapshot{
		LastReconcile: last.At,
		LastResult:    last,
		Passes:        passes,
		Pending:       s.alarms.Pending(),
		Workers:       s.alerts.Workers(),
	}
}

// Close cancels every alarm and worker and waits (bounded by ctx) for workers
// to exit. The scheduler must not be used afterwards.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms.CancelAll()
	s.cancel()
	return s.alerts.Close(ctx)
}
