// Package tasks is the mutation path for tasks: every change is persisted and
// then followed by a full refresh of the alarm schedule.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskbell/internal/storage"
	"taskbell/internal/task"
	logx "taskbell/pkg/logx"
)

// RefreshFunc receives the full, unfiltered task list after a mutation.
type RefreshFunc func(ctx context.Context, all []task.Task)

// Stopper stops a task's continuous alert. alarm.Scheduler implements it.
type Stopper interface {
	StopTask(taskID int64) bool
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithRefresh(fn RefreshFunc) Option { return func(s *Service) { s.refresh = fn } }

func WithStopper(st Stopper) Option { return func(s *Service) { s.stopper = st } }

// Input describes a new task. A zero Status means Pending.
type Input struct {
	Name        string
	Description string
	StartAt     time.Time
	EndAt       time.Time
	Status      task.Status
}

// Patch changes only its non-nil fields.
type Patch struct {
	Name        *string
	Description *string
	StartAt     *time.Time
	EndAt       *time.Time
	Status      *task.Status
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.StartAt == nil && p.EndAt == nil && p.Status == nil
}

func (p Patch) apply(t task.Task) task.Task {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.StartAt != nil {
		t.StartAt = *p.StartAt
	}
	if p.EndAt != nil {
		t.EndAt = *p.EndAt
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	return t
}

type Service struct {
	store   storage.Store
	log     logx.Logger
	refresh RefreshFunc
	stopper Stopper
}

func New(store storage.Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() storage.Store { return s.store }

func (s *Service) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	return s.store.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id int64) (task.Task, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Add(ctx context.Context, in Input) (task.Task, error) {
	t := task.Task{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		StartAt:     in.StartAt,
		EndAt:       in.EndAt,
		Status:      in.Status,
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}
	t.Status = t.Status.Canonical()
	created, err := s.store.Create(ctx, t)
	if err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.log.Info("task added", logx.Int64("id", created.ID), logx.String("name", created.Name))
	s.Refresh(ctx)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, p Patch) (task.Task, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	next := p.apply(cur)
	if err := next.Validate(); err != nil {
		return task.Task{}, err
	}
	next.Status = next.Status.Canonical()
	// Completing through an edit silences the alert before the write lands.
	if next.Completed() && !cur.Completed() {
		s.stop(id)
	}
	if err := s.store.Update(ctx, next); err != nil {
		return task.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	s.log.Info("task updated", logx.Int64("id", id), logx.String("status", string(next.Status)))
	s.Refresh(ctx)
	return s.store.Get(ctx, id)
}

// Complete marks the task Completed. Completing a completed task is a no-op.
func (s *Service) Complete(ctx context.Context, id int64) (task.Task, error) {
	st := task.StatusCompleted
	s.stop(id)
	return s.Update(ctx, id, Patch{Status: &st})
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	s.stop(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("task deleted", logx.Int64("id", id))
	s.Refresh(ctx)
	return nil
}

// Refresh hands the full task list to the refresh hook. List failures are
// logged; the previous schedule stays in place.
func (s *Service) Refresh(ctx context.Context) {
	if s.refresh == nil {
		return
	}
	all, err := s.store.List(ctx, task.Filter{})
	if err != nil {
		s.log.Warn("refresh: list tasks failed", logx.Err(err))
		return
	}
	s.refresh(ctx, all)
}

func (s *Service) stop(id int64) {
	if s.stopper != nil && s.stopper.StopTask(id) {
		s.log.Debug("continuous alert stopped", logx.Int64("id", id))
	}
}
