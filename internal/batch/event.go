package batch

import (
	"context"
	"time"
)

// EventKind classifies batch notifications.
type EventKind string

const (
	EventStarted   EventKind = "batch_started"
	EventProgress  EventKind = "batch_progress"
	EventCompleted EventKind = "batch_completed"
	EventFailed    EventKind = "batch_failed"
)

// Event is one batch notification.
type Event struct {
	Kind      EventKind `json:"kind"`
	BatchID   string    `json:"batch_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Latest    string    `json:"latest,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives batch events. Errors are logged by the caller and
// never change the batch outcome.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
