package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatchParent_CancelsWhenReparented(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var pid atomic.Int64
	pid.Store(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchParent(ctx, cancel, func() int { return int(pid.Load()) }, 5*time.Millisecond)
	pid.Store(1)

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not cancel after parent changed")
	}
}

func TestWatchParent_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{})
	watchParent(ctx, func() { close(fired) }, func() int { return 42 }, 5*time.Millisecond)
	cancel()

	select {
	case <-fired:
		t.Fatal("watchdog cancelled with an unchanged parent")
	case <-time.After(30 * time.Millisecond):
	}
}
