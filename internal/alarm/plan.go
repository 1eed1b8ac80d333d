package alarm

import (
	"sort"
	"time"

	"taskbell/internal/task"
)

// ActionKind is one step of a derivation pass.
type ActionKind string

const (
	// ActionStopWorker stops the worker of a completed task.
	ActionStopWorker ActionKind = "stop-worker"
	// ActionScheduleStart arms the Start alarm of a future task.
	ActionScheduleStart ActionKind = "schedule-start"
	// ActionScheduleEnd arms the End alarm of a task whose window is not over.
	ActionScheduleEnd ActionKind = "schedule-end"
	// ActionEnsureWorker makes sure a task inside its window has a worker
	// running until EndAt.
	ActionEnsureWorker ActionKind = "ensure-worker"
)

// Action is a single derivation step for one task.
type Action struct {
	Kind   ActionKind `json:"kind"`
	TaskID int64      `json:"task_id"`
	Name   string     `json:"name"`
	At     time.Time  `json:"at,omitempty"`
	EndAt  time.Time  `json:"end_at,omitempty"`
}

// Plan is the outcome of deriving alarms from a task snapshot at Now.
type Plan struct {
	Now     time.Time `json:"now"`
	Actions []Action  `json:"actions"`
}

// Derive computes what a pass over tasks at now must install. It has no side
// effects; Scheduler.Reconcile executes the result.
//
// Completed tasks only yield a stop. Tasks whose window is over yield nothing.
// A future task gets Start and End alarms; a task inside its window gets an
// End alarm and a worker.
func Derive(tasks []task.Task, now time.Time) Plan {
	p := Plan{Now: now, Actions: make([]Action, 0, 2*len(tasks))}
	for _, t := range tasks {
		if t.Completed() {
			p.Actions = append(p.Actions, Action{Kind: ActionStopWorker, TaskID: t.ID, Name: t.Name})
			continue
		}
		if !t.EndAt.After(now) {
			continue
		}
		if t.StartAt.After(now) {
			p.Actions = append(p.Actions, Action{Kind: ActionScheduleStart, TaskID: t.ID, Name: t.Name, At: t.StartAt, EndAt: t.EndAt})
		}
		p.Actions = append(p.Actions, Action{Kind: ActionScheduleEnd, TaskID: t.ID, Name: t.Name, At: t.EndAt, EndAt: t.EndAt})
		if !t.StartAt.After(now) {
			p.Actions = append(p.Actions, Action{Kind: ActionEnsureWorker, TaskID: t.ID, Name: t.Name, EndAt: t.EndAt})
		}
	}
	return p
}

// Active returns the ids of tasks that must have a worker after the pass.
func (p Plan) Active() map[int64]time.Time {
	out := map[int64]time.Time{}
	for _, a := range p.Actions {
		if a.Kind == ActionEnsureWorker {
			out[a.TaskID] = a.EndAt
		}
	}
	return out
}

// Upcoming lists the alarms the plan arms, ordered by fire time.
func (p Plan) Upcoming() []Action {
	out := make([]Action, 0, len(p.Actions))
	for _, a := range p.Actions {
		if a.Kind == ActionScheduleStart || a.Kind == ActionScheduleEnd {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}
