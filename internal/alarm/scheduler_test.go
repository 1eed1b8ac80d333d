package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskbell/internal/eventbus"
	"taskbell/internal/notifier"
	"taskbell/internal/task"
	"taskbell/pkg/clock"
	logx "taskbell/pkg/logx"
)

type recorder struct {
	mu  sync.Mutex
	got []notifier.Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n notifier.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Title+"|"+n.Message)
	}
	return out
}

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *clock.Fake, *recorder) {
	t.Helper()
	clk := clock.NewFake(t0)
	rec := &recorder{}
	opts = append([]Option{WithLogger(logx.Nop()), WithTickInterval(time.Second)}, opts...)
	s := New(clk, rec, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, clk, rec
}

func mkTask(id int64, name string, start, end time.Duration, st task.Status) task.Task {
	return task.Task{ID: id, Name: name, StartAt: t0.Add(start), EndAt: t0.Add(end), Status: st}
}

func pendingKeys(s *Scheduler) map[Key]time.Time {
	out := map[Key]time.Time{}
	for _, p := range s.Alarms().Pending() {
		out[p.Key] = p.At
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Future task: Start and End alarms, worker between them, nothing left after.
func TestScenarioFutureTask(t *testing.T) {
	t.Parallel()
	s, clk, rec := newTestScheduler(t)
	a := mkTask(1, "A", 5*time.Second, 10*time.Second, task.StatusPending)

	res := s.Reconcile([]task.Task{a}, clk.Now())
	if res.Scheduled != 2 {
		t.Fatalf("Scheduled = %d, want 2", res.Scheduled)
	}
	keys := pendingKeys(s)
	if len(keys) != 2 {
		t.Fatalf("pending = %v, want start and end", keys)
	}
	if at := keys[Key{1, PhaseStart}]; !at.Equal(a.StartAt) {
		t.Fatalf("start alarm at %v, want %v", at, a.StartAt)
	}
	if at := keys[Key{1, PhaseEnd}]; !at.Equal(a.EndAt) {
		t.Fatalf("end alarm at %v, want %v", at, a.EndAt)
	}
	if s.Alerts().Len() != 0 {
		t.Fatal("worker started before the window opened")
	}

	clk.Advance(5 * time.Second)
	if !s.Alerts().Running(1) {
		t.Fatal("start alarm did not start the worker")
	}
	if got := rec.messages(); !equalStrings(got, []string{"Task Start|Task started: A"}) {
		t.Fatalf("notifications = %v", got)
	}

	clk.Advance(5 * time.Second)
	if s.Alerts().Running(1) {
		t.Fatal("end alarm did not stop the worker")
	}
	want := []string{"Task Start|Task started: A", "Task End|Task ended: A"}
	if got := rec.messages(); !equalStrings(got, want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	if s.Alarms().Len() != 0 {
		t.Fatalf("alarms left: %v", s.Alarms().Pending())
	}

	waitWorkers(t, s.Alerts())
	if clk.Pending() != 0 {
		t.Fatalf("%d timers leaked", clk.Pending())
	}
}

// Task already inside its window: worker now, End alarm only.
func TestScenarioActiveTask(t *testing.T) {
	t.Parallel()
	s, clk, rec := newTestScheduler(t)
	b := mkTask(2, "B", -5*time.Second, 5*time.Second, task.StatusInProgress)

	res := s.Reconcile([]task.Task{b}, clk.Now())
	if res.WorkersStarted != 1 {
		t.Fatalf("WorkersStarted = %d, want 1", res.WorkersStarted)
	}
	if !s.Alerts().Running(2) || s.Alerts().Len() != 1 {
		t.Fatal("expected exactly one worker for B")
	}
	keys := pendingKeys(s)
	if len(keys) != 1 {
		t.Fatalf("pending = %v, want only end", keys)
	}
	if at, ok := keys[Key{2, PhaseEnd}]; !ok || !at.Equal(b.EndAt) {
		t.Fatalf("end alarm missing or wrong: %v", keys)
	}
	if len(rec.messages()) != 0 {
		t.Fatal("no start notification expected for an already-open window")
	}
}

// Task completed while its worker runs: the next pass stops it and leaves no alarms.
func TestScenarioCompletedWhileRunning(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestScheduler(t)
	c := mkTask(3, "C", -time.Minute, time.Hour, task.StatusInProgress)
	s.Reconcile([]task.Task{c}, clk.Now())
	if !s.Alerts().Running(3) {
		t.Fatal("precondition: worker should run")
	}

	c.Status = task.StatusCompleted
	res := s.Reconcile([]task.Task{c}, clk.Now())
	if s.Alerts().Running(3) {
		t.Fatal("worker of completed task still running")
	}
	if res.WorkersStopped != 1 {
		t.Fatalf("WorkersStopped = %d, want 1", res.WorkersStopped)
	}
	if s.Alarms().Len() != 0 {
		t.Fatalf("completed task still has alarms: %v", s.Alarms().Pending())
	}
}

func TestWorkerCountMatchesOpenWindows(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestScheduler(t)
	tasks := []task.Task{
		mkTask(1, "future", time.Minute, 2*time.Minute, task.StatusPending),
		mkTask(2, "open", -time.Minute, time.Minute, task.StatusPending),
		mkTask(3, "open-at-start", 0, time.Minute, task.StatusInProgress),
		mkTask(4, "over", -2*time.Minute, -time.Minute, task.StatusPending),
		mkTask(5, "ends-now", -time.Minute, 0, task.StatusPending),
		mkTask(6, "open-completed", -time.Minute, time.Minute, task.StatusCompleted),
		mkTask(7, "open-canceled", -time.Minute, time.Minute, task.StatusCanceled),
	}
	s.Reconcile(tasks, clk.Now())

	want := 0
	for _, tk := range tasks {
		if !tk.Completed() && tk.Active(clk.Now()) {
			want++
		}
	}
	if got := s.Alerts().Len(); got != want {
		t.Fatalf("workers = %d (%v), want %d", got, s.Alerts().IDs(), want)
	}
	for _, p := range s.Alarms().Pending() {
		if p.Key.TaskID == 6 {
			t.Fatalf("completed task has alarm %v", p.Key)
		}
		if p.Key.TaskID == 4 || p.Key.TaskID == 5 {
			t.Fatalf("finished task has alarm %v", p.Key)
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestScheduler(t)
	tasks := []task.Task{
		mkTask(1, "future", time.Minute, 2*time.Minute, task.StatusPending),
		mkTask(2, "open", -time.Minute, time.Minute, task.StatusPending),
	}
	s.Reconcile(tasks, clk.Now())
	first := s.Snapshot()

	res := s.Reconcile(tasks, clk.Now())
	second := s.Snapshot()

	if res.WorkersStarted != 0 || res.WorkersRestarted != 0 || res.WorkersStopped != 0 {
		t.Fatalf("second pass touched workers: %+v", res)
	}
	if len(first.Pending) != len(second.Pending) {
		t.Fatalf("pending differs: %v vs %v", first.Pending, second.Pending)
	}
	for i := range first.Pending {
		if first.Pending[i] != second.Pending[i] {
			t.Fatalf("pending[%d] differs: %v vs %v", i, first.Pending[i], second.Pending[i])
		}
	}
	if len(first.Workers) != len(second.Workers) || first.Workers[0].TaskID != second.Workers[0].TaskID {
		t.Fatalf("workers differ: %v vs %v", first.Workers, second.Workers)
	}
	if second.Passes != 2 {
		t.Fatalf("Passes = %d, want 2", second.Passes)
	}
}

func TestReconcileCancelsPreviousAlarms(t *testing.T) {
	t.Parallel()
	s, clk, rec := newTestScheduler(t)
	tk := mkTask(1, "moved", 5*time.Second, 10*time.Second, task.StatusPending)
	s.Reconcile([]task.Task{tk}, clk.Now())

	tk.StartAt = t0.Add(20 * time.Second)
	tk.EndAt = t0.Add(30 * time.Second)
	res := s.Reconcile([]task.Task{tk}, clk.Now())
	if res.Cancelled != 2 {
		t.Fatalf("Cancelled = %d, want 2", res.Cancelled)
	}

	clk.Advance(10 * time.Second)
	if got := rec.messages(); len(got) != 0 {
		t.Fatalf("stale alarms fired: %v", got)
	}
	clk.Advance(10 * time.Second)
	if got := rec.messages(); len(got) != 1 {
		t.Fatalf("notifications = %v, want one start", got)
	}
}

func TestCancelledAlarmNeverFires(t *testing.T) {
	t.Parallel()
	s, clk, rec := newTestScheduler(t)
	s.Reconcile([]task.Task{mkTask(1, "x", time.Second, 2*time.Second, task.StatusPending)}, clk.Now())
	s.Alarms().Cancel(Key{1, PhaseStart})
	s.Alarms().Cancel(Key{1, PhaseEnd})
	clk.Advance(time.Minute)
	if got := rec.messages(); len(got) != 0 {
		t.Fatalf("cancelled alarms fired: %v", got)
	}
	if s.Alerts().Len() != 0 {
		t.Fatal("cancelled start alarm started a worker")
	}
}

func TestEditedDeadlineRestartsWorker(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestScheduler(t)
	tk := mkTask(1, "edit", -time.Minute, 5*time.Second, task.StatusInProgress)
	s.Reconcile([]task.Task{tk}, clk.Now())

	tk.EndAt = t0.Add(time.Minute)
	res := s.Reconcile([]task.Task{tk}, clk.Now())
	if res.WorkersRestarted != 1 {
		t.Fatalf("WorkersRestarted = %d, want 1", res.WorkersRestarted)
	}
	if dl, ok := s.Alerts().Deadline(1); !ok || !dl.Equal(tk.EndAt) {
		t.Fatalf("deadline = %v (ok=%v), want %v", dl, ok, tk.EndAt)
	}

	// The old deadline passes without stopping the new worker.
	clk.Advance(5 * time.Second)
	if !s.Alerts().Running(1) {
		t.Fatal("worker stopped at the old deadline")
	}
}

func TestDeletedTaskWorkerIsStopped(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestScheduler(t)
	s.Reconcile([]task.Task{mkTask(1, "gone", -time.Minute, time.Minute, task.StatusPending)}, clk.Now())

	res := s.Reconcile(nil, clk.Now())
	if res.WorkersStopped != 1 || s.Alerts().Len() != 0 {
		t.Fatalf("worker of deleted task survived: %+v", res)
	}
	if s.Alarms().Len() != 0 {
		t.Fatal("deleted task still has alarms")
	}
}

func TestDegenerateWindow(t *testing.T) {
	t.Parallel()
	s, clk, rec := newTestScheduler(t)
	s.Reconcile([]task.Task{mkTask(1, "blip", 5*time.Second, 5*time.Second, task.StatusPending)}, clk.Now())

	clk.Advance(5 * time.Second)
	want := []string{"Task Start|Task started: blip", "Task End|Task ended: blip"}
	if got := rec.messages(); !equalStrings(got, want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	if s.Alerts().Len() != 0 {
		t.Fatal("empty window should not leave a worker")
	}
}

func TestNotifierErrorDoesNotStopScheduling(t *testing.T) {
	t.Parallel()
	s, clk, rec := newTestScheduler(t)
	rec.err = errors.New("surface not ready")
	s.Reconcile([]task.Task{mkTask(1, "x", time.Second, time.Minute, task.StatusPending)}, clk.Now())

	clk.Advance(time.Second)
	if !s.Alerts().Running(1) {
		t.Fatal("worker not started after notifier failure")
	}
}

func TestWorkersTickThroughOnTick(t *testing.T) {
	t.Parallel()
	ticks := make(chan int64, 8)
	s, clk, _ := newTestScheduler(t, WithOnTick(func(id int64, _ uint64) { ticks <- id }))
	s.Reconcile([]task.Task{mkTask(9, "ring", -time.Second, time.Minute, task.StatusPending)}, clk.Now())

	select {
	case id := <-ticks:
		if id != 9 {
			t.Fatalf("tick for task %d, want 9", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}
}

func TestReconcilePublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s, clk, _ := newTestScheduler(t, WithBus(bus))
	s.Reconcile([]task.Task{mkTask(1, "x", time.Second, time.Minute, task.StatusPending)}, clk.Now())
	clk.Advance(time.Second)

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !(seen[eventbus.TypeReconciled] && seen[eventbus.TypeAlarmFired] && seen[eventbus.TypeAlertStarted]) {
		select {
		case e := <-ch:
			seen[e.Type] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()
	now := t0
	tests := []struct {
		name string
		tk   task.Task
		want []ActionKind
	}{
		{"future", mkTask(1, "f", time.Second, time.Minute, task.StatusPending), []ActionKind{ActionScheduleStart, ActionScheduleEnd}},
		{"open", mkTask(1, "o", -time.Second, time.Minute, task.StatusPending), []ActionKind{ActionScheduleEnd, ActionEnsureWorker}},
		{"starts-now", mkTask(1, "s", 0, time.Minute, task.StatusPending), []ActionKind{ActionScheduleEnd, ActionEnsureWorker}},
		{"over", mkTask(1, "x", -time.Minute, -time.Second, task.StatusPending), nil},
		{"ends-now", mkTask(1, "e", -time.Minute, 0, task.StatusPending), nil},
		{"completed", mkTask(1, "c", -time.Second, time.Minute, task.StatusCompleted), []ActionKind{ActionStopWorker}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := Derive([]task.Task{tt.tk}, now)
			if len(p.Actions) != len(tt.want) {
				t.Fatalf("actions = %+v, want kinds %v", p.Actions, tt.want)
			}
			for i, k := range tt.want {
				if p.Actions[i].Kind != k {
					t.Fatalf("action[%d] = %s, want %s", i, p.Actions[i].Kind, k)
				}
			}
		})
	}
}

func TestPlanUpcomingOrdered(t *testing.T) {
	t.Parallel()
	p := Derive([]task.Task{
		mkTask(2, "late", 10*time.Second, 20*time.Second, task.StatusPending),
		mkTask(1, "early", 5*time.Second, 30*time.Second, task.StatusPending),
	}, t0)
	up := p.Upcoming()
	if len(up) != 4 {
		t.Fatalf("upcoming = %d, want 4", len(up))
	}
	for i := 1; i < len(up); i++ {
		if up[i].At.Before(up[i-1].At) {
			t.Fatalf("not ordered: %+v", up)
		}
	}
	if up[0].TaskID != 1 || up[0].Kind != ActionScheduleStart {
		t.Fatalf("first = %+v", up[0])
	}
}
