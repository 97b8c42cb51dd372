package mcp

import (
	"context"
	"os"
	"time"

	"contentmill/internal/logging"
)

// ParentCheckInterval is how often WatchParent polls the parent pid.
var ParentCheckInterval = 2 * time.Second

// WatchParent calls cancel once the process is reparented, which happens
// when the MCP client that spawned the server exits. A stdio server has no
// other way to learn its client is gone.
//
// The watchdog never touches stdin; the stdio transport owns it.
func WatchParent(ctx context.Context, cancel context.CancelFunc) {
	watchParent(ctx, cancel, os.Getppid, ParentCheckInterval)
}

func watchParent(ctx context.Context, cancel context.CancelFunc, ppid func() int, every time.Duration) {
	initial := ppid()
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if now := ppid(); now != initial {
					logging.New("mcp").Warn("client process gone, shutting down", "ppid", initial, "now", now)
					cancel()
					return
				}
			}
		}
	}()
}
