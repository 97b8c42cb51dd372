package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"contentmill/internal/batch"
)

func TestBus_EmitAndSince(t *testing.T) {
	b := NewBus()
	b.Emit("batch_started", "scheduler", "b1", nil)
	b.Emit("batch_progress", "scheduler", "b1", map[string]string{"completed": "10"})
	b.Emit("batch_completed", "scheduler", "b1", nil)

	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}
	var got []string
	for _, s := range b.Since(1) {
		got = append(got, s.Event)
	}
	if diff := cmp.Diff([]string{"batch_progress", "batch_completed"}, got); diff != "" {
		t.Errorf("Since(1) (-want +got):\n%s", diff)
	}
	if s := b.Since(3); s != nil {
		t.Errorf("Since(total) = %v, want nil", s)
	}
	if s := b.Since(-4); len(s) != 3 {
		t.Errorf("Since(-4) = %d signals, want 3", len(s))
	}
}

func TestBus_ConcurrentEmit(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit("batch_progress", "scheduler", "b", nil)
		}()
	}
	wg.Wait()
	if b.Len() != 50 {
		t.Errorf("Len = %d, want 50", b.Len())
	}
}

func TestBus_Notify(t *testing.T) {
	b := NewBus()
	_ = b.Notify(context.Background(), batch.Event{
		Kind: batch.EventProgress, BatchID: "b1", Total: 20, Completed: 10, Latest: "Go generics",
	})
	s := b.Since(0)[0]
	want := map[string]string{"total": "20", "completed": "10", "failed": "0", "latest": "Go generics"}
	if s.Event != "batch_progress" || s.BatchID != "b1" {
		t.Errorf("signal = %+v", s)
	}
	if diff := cmp.Diff(want, s.Meta); diff != "" {
		t.Errorf("meta (-want +got):\n%s", diff)
	}
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	calls := 0
	failing := batch.NotifierFunc(func(context.Context, batch.Event) error {
		calls++
		return errors.New("webhook down")
	})
	ok := batch.NotifierFunc(func(context.Context, batch.Event) error {
		calls++
		return nil
	})
	err := Multi{failing, nil, ok}.Notify(context.Background(), batch.Event{Kind: batch.EventStarted})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "webhook down") {
		t.Errorf("err = %v", err)
	}
}

func TestLog_Notify(t *testing.T) {
	var buf bytes.Buffer
	l := &Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	_ = l.Notify(context.Background(), batch.Event{Kind: batch.EventFailed, BatchID: "b9", Err: "all 3 runs failed"})
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "batch_id=b9") {
		t.Errorf("log output = %q", out)
	}
}
