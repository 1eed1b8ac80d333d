package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	SendTimeout     time.Duration
}

// Kind tags what raised a notification.
type Kind string

const (
	KindTaskStart Kind = "task.start"
	KindTaskEnd   Kind = "task.end"
)

// Notification is one user-facing message.
type Notification struct {
	Kind     Kind
	TaskID   int64
	Title    string
	Message  string
	Priority int
}

// Text is the single-line rendering used by text sinks and history.
func (n Notification) Text() string {
	if n.Title == "" {
		return n.Message
	}
	if n.Message == "" {
		return n.Title
	}
	return n.Title + ": " + n.Message
}

// Sink delivers a notification to one surface (terminal, desktop, chat).
type Sink interface {
	Name() string
	Show(ctx context.Context, n Notification) error
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Sink string    `json:"sink"`
	Text string    `json:"text"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Kind   Kind      `json:"kind"`
	TaskID int64     `json:"task_id,omitempty"`
	Sink   string    `json:"sink,omitempty"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
