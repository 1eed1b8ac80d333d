// Package task holds the task model shared by the store, the CLI and the alarm scheduler.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a task. Only Completed is special to the
// alarm scheduler: it suppresses every alarm for the task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCanceled   Status = "Canceled"
)

// FilterAll selects every status.
const FilterAll = "All"

// InputLayout is the day-first layout used for CLI input and table output.
const InputLayout = "02/01/2006 15:04"

// MaxDescriptionLen bounds Description, in runes.
const MaxDescriptionLen = 500

var (
	ErrUnknownStatus = errors.New("unknown task status")
	ErrInvalidWindow = errors.New("end time before start time")
	ErrNameRequired  = errors.New("task name required")
	ErrDescTooLong   = fmt.Errorf("description longer than %d characters", MaxDescriptionLen)
)

// Statuses returns every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCanceled}
}

// ParseStatus matches s case-insensitively; "inprogress" and "in_progress" are accepted too.
func ParseStatus(s string) (Status, error) {
	norm := strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(strings.TrimSpace(s)))
	if norm == "inprogress" {
		norm = "in progress"
	}
	for _, st := range Statuses() {
		if strings.ToLower(string(st)) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Canonical returns the declared spelling of s, or s unchanged when unknown.
func (s Status) Canonical() Status {
	if st, err := ParseStatus(string(s)); err == nil {
		return st
	}
	return s
}

// Is compares statuses ignoring case, as stores edited by hand may hold any spelling.
func (s Status) Is(o Status) bool { return strings.EqualFold(string(s), string(o)) }

// Task is a read-only snapshot as returned by the store.
type Task struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the invariants callers enforce before create/update.
// The scheduler does not call it.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrNameRequired
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLen {
		return ErrDescTooLong
	}
	if t.EndAt.Before(t.StartAt) {
		return ErrInvalidWindow
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, t.Status)
	}
	return nil
}

func (t Task) Completed() bool { return t.Status.Is(StatusCompleted) }

// Active reports whether now lies in the half-open window [StartAt, EndAt).
func (t Task) Active(now time.Time) bool {
	return !now.Before(t.StartAt) && now.Before(t.EndAt)
}

// Filter selects tasks by status. The zero value selects everything.
type Filter struct {
	Status Status
}

// ParseFilter accepts "All" (or empty) or a status name.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, FilterAll) {
		return Filter{}, nil
	}
	st, err := ParseStatus(s)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Status: st}, nil
}

func (f Filter) All() bool { return f.Status == "" }

func (f Filter) Match(t Task) bool { return f.All() || t.Status.Is(f.Status) }

func (f Filter) String() string {
	if f.All() {
		return FilterAll
	}
	return string(f.Status)
}

// ParseTime accepts InputLayout (in loc) or RFC3339.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(InputLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use dd/MM/yyyy HH:mm or RFC3339)", s)
}
