package mcp

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"contentmill/internal/batch"
	"contentmill/internal/logging"
	"contentmill/internal/notify"
)

// SessionState tracks the lifecycle of a batch session.
type SessionState string

const (
	StateRunning SessionState = "running"
	StateDone    SessionState = "done"
	StateError   SessionState = "error"
)

// Runner executes one batch. *batch.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, req batch.Request) (*batch.Report, error)
}

// Session holds one batch started over MCP. The batch runs in its own
// goroutine; its scheduler events land on Bus.
type Session struct {
	ID          string
	TargetCount int
	Strategy    string
	Bus         *notify.Bus

	state  SessionState
	report *batch.Report
	err    error
	doneCh chan struct{}
	cancel context.CancelFunc

	mu sync.Mutex
}

// NewSession spawns the batch and returns immediately. The batch outlives
// the tool call that started it; Cancel stops it.
func NewSession(ctx context.Context, r Runner, req batch.Request) *Session {
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &Session{
		ID:          req.BatchID,
		TargetCount: req.TargetCount,
		Strategy:    string(req.Strategy),
		Bus:         notify.NewBus(),
		state:       StateRunning,
		doneCh:      make(chan struct{}),
		cancel:      cancel,
	}
	req.Notifier = sess.Bus
	sess.Bus.Emit("session_started", "server", sess.ID, map[string]string{
		"target_count": strconv.Itoa(req.TargetCount),
	})
	go sess.run(runCtx, r, req)
	return sess
}

// GetState returns the current session state.
func (s *Session) GetState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel stops the batch between chunks.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) run(ctx context.Context, r Runner, req batch.Request) {
	defer close(s.doneCh)
	defer s.cancel()
	logger := logging.New("mcp-session").With("batch_id", s.ID)

	rep, err := r.Run(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = rep
	if err != nil {
		s.state = StateError
		s.err = err
		s.Bus.Emit("session_error", "server", s.ID, map[string]string{"error": err.Error()})
		logger.Error("batch error", "error", err)
		return
	}
	s.state = StateDone
	s.Bus.Emit("session_done", "server", s.ID, map[string]string{
		"status": string(rep.Batch.Status),
		"ranked": strconv.Itoa(len(rep.Ranking.Items)),
	})
	logger.Info("batch complete", "status", rep.Batch.Status, "completed", rep.Batch.Completed, "failed", rep.Batch.Failed)
}

// Report returns the batch report, or nil while running. An interrupted
// batch keeps its partial report alongside Err.
func (s *Session) Report() *batch.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Err returns the batch-level error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel closed when the batch finishes.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}
