package notify

import (
	"context"
	"log/slog"

	"contentmill/internal/batch"
	"contentmill/internal/logging"
)

// Log writes batch events to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func NewLog() *Log { return &Log{Logger: logging.New("notify")} }

func (l *Log) Notify(ctx context.Context, ev batch.Event) error {
	level := slog.LevelInfo
	if ev.Kind == batch.EventFailed {
		level = slog.LevelError
	}
	l.Logger.Log(ctx, level, string(ev.Kind),
		"batch_id", ev.BatchID,
		"total", ev.Total,
		"completed", ev.Completed,
		"failed", ev.Failed,
		"latest", ev.Latest,
		"status", ev.Status,
		"error", ev.Err,
	)
	return nil
}
