// Package notify delivers batch events to observers: an in-memory signal
// bus polled over MCP, the structured log, or several at once.
package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"contentmill/internal/batch"
	"contentmill/internal/logging"
)

// Signal is one entry on the bus.
type Signal struct {
	Timestamp string            `json:"ts"`
	Event     string            `json:"event"`
	Source    string            `json:"source"`
	BatchID   string            `json:"batch_id,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Bus is a thread-safe, append-only signal log.
type Bus struct {
	mu      sync.Mutex
	signals []Signal
	now     func() time.Time
}

func NewBus() *Bus { return &Bus{now: time.Now} }

// Emit appends a signal and returns its index.
func (b *Bus) Emit(event, source, batchID string, meta map[string]string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	b.signals = append(b.signals, Signal{
		Timestamp: now().UTC().Format(time.RFC3339),
		Event:     event,
		Source:    source,
		BatchID:   batchID,
		Meta:      meta,
	})
	return len(b.signals) - 1
}

// Since returns the signals from idx onward. A negative idx is treated as 0.
func (b *Bus) Since(idx int) []Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 {
		logging.New("signal-bus").Warn("Since called with negative index, clamping to 0", "idx", idx)
		idx = 0
	}
	if idx >= len(b.signals) {
		return nil
	}
	out := make([]Signal, len(b.signals)-idx)
	copy(out, b.signals[idx:])
	return out
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signals)
}

// Notify records a batch event on the bus.
func (b *Bus) Notify(_ context.Context, ev batch.Event) error {
	b.Emit(string(ev.Kind), "scheduler", ev.BatchID, eventMeta(ev))
	return nil
}

func eventMeta(ev batch.Event) map[string]string {
	m := map[string]string{
		"total":     strconv.Itoa(ev.Total),
		"completed": strconv.Itoa(ev.Completed),
		"failed":    strconv.Itoa(ev.Failed),
	}
	if ev.Latest != "" {
		m["latest"] = ev.Latest
	}
	if ev.Status != "" {
		m["status"] = string(ev.Status)
	}
	if ev.Err != "" {
		m["error"] = ev.Err
	}
	return m
}

// Multi fans an event out to every notifier. All are called; their errors
// are joined.
type Multi []batch.Notifier

func (m Multi) Notify(ctx context.Context, ev batch.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
