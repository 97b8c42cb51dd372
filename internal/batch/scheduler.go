package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"contentmill/internal/logging"
	"contentmill/internal/scoring"
)

// Mode selects how runs are fed to the worker pool.
type Mode string

const (
	// ModeChunked runs candidates in groups of Concurrency; each group
	// settles before the next starts, with ChunkPause in between.
	ModeChunked Mode = "chunked"
	// ModeSaturating keeps up to Concurrency runs in flight, refilling as
	// slots free.
	ModeSaturating Mode = "saturating"
)

// Defaults for Config.
const (
	DefaultConcurrency   = 3
	DefaultProgressEvery = 10
	DefaultChunkPause    = 2 * time.Second
)

// Config tunes the scheduler.
type Config struct {
	Concurrency   int
	ChunkPause    time.Duration
	ProgressEvery int
	Mode          Mode
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.ChunkPause < 0 {
		c.ChunkPause = 0
	}
	if c.Mode == "" {
		c.Mode = ModeChunked
	}
	return c
}

// Job is one unit of work handed to a RunFunc.
type Job struct {
	Index     int
	Candidate scoring.ScoredCandidate
}

// Outcome is what a successful run reports back.
type Outcome struct {
	RunID   string
	Display string
}

// RunFunc executes one candidate's pipeline run. Its error fails only that run.
type RunFunc func(ctx context.Context, job Job) (Outcome, error)

// Scheduler runs jobs concurrently under a fixed cap.
type Scheduler struct {
	cfg       Config
	notifiers []Notifier
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNotifier adds a notifier. Each notifier is called in turn; one
// failing does not skip the rest.
func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) {
		if n != nil {
			s.notifiers = append(s.notifiers, n)
		}
	}
}

func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler applies defaults to cfg.
func NewScheduler(cfg Config, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg:    cfg.withDefaults(),
		logger: logging.New("scheduler"),
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// With returns a copy of s that also notifies n.
func (s *Scheduler) With(n Notifier) *Scheduler {
	c := *s
	c.notifiers = append(append([]Notifier(nil), s.notifiers...), n)
	return &c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Schedule runs fn for every candidate of b and finalizes b's status.
// Per-run failures are counted, never returned. A cancelled context stops
// dispatch at the next chunk boundary (or next free slot in saturating
// mode); runs already started finish and are counted.
func (s *Scheduler) Schedule(ctx context.Context, b *BatchRun, fn RunFunc) error {
	if len(b.Candidates) == 0 {
		b.finish(ErrNoCandidates)
		return &SchedulingError{BatchID: b.ID, Err: ErrNoCandidates}
	}
	logger := s.logger.With("batch_id", b.ID)
	logger.Info("batch started", "candidates", len(b.Candidates), "concurrency", s.cfg.Concurrency, "mode", s.cfg.Mode)
	s.emit(ctx, logger, Event{Kind: EventStarted, BatchID: b.ID, Total: len(b.Candidates)})

	var err error
	switch s.cfg.Mode {
	case ModeSaturating:
		err = s.saturate(ctx, b, fn, logger)
	default:
		err = s.chunked(ctx, b, fn, logger)
	}

	status := b.finish(err)
	ev := Event{
		Kind: EventCompleted, BatchID: b.ID, Total: len(b.Candidates),
		Completed: b.Completed(), Failed: b.Failed(), Status: status,
	}
	if status == StatusFailed {
		ev.Kind = EventFailed
		if e := b.Err(); e != nil {
			ev.Err = e.Error()
		} else {
			ev.Err = fmt.Sprintf("all %d runs failed", b.Failed())
		}
	}
	logger.Info("batch finished", "status", status, "completed", ev.Completed, "failed", ev.Failed)
	s.emit(context.WithoutCancel(ctx), logger, ev)

	if err != nil {
		return fmt.Errorf("batch %s interrupted: %w", b.ID, err)
	}
	return nil
}

func (s *Scheduler) chunked(ctx context.Context, b *BatchRun, fn RunFunc, logger *slog.Logger) error {
	c := s.cfg.Concurrency
	for start := 0; start < len(b.Candidates); start += c {
		if start > 0 {
			if err := s.sleep(ctx, s.cfg.ChunkPause); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+c, len(b.Candidates))
		logger.Debug("chunk dispatched", "from", start, "to", end)

		var g errgroup.Group
		for i := start; i < end; i++ {
			job := Job{Index: i, Candidate: b.Candidates[i]}
			b.dispatched.Add(1)
			g.Go(func() error {
				s.execute(ctx, b, job, fn, logger)
				return nil
			})
		}
		_ = g.Wait() // errors captured in RunResult
	}
	return nil
}

func (s *Scheduler) saturate(ctx context.Context, b *BatchRun, fn RunFunc, logger *slog.Logger) error {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	var stopErr error
	for i, cand := range b.Candidates {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		job := Job{Index: i, Candidate: cand}
		b.dispatched.Add(1)
		g.Go(func() error {
			s.execute(ctx, b, job, fn, logger)
			return nil
		})
	}
	_ = g.Wait() // errors captured in RunResult
	return stopErr
}

func (s *Scheduler) execute(ctx context.Context, b *BatchRun, job Job, fn RunFunc, logger *slog.Logger) {
	res := RunResult{Index: job.Index, Key: job.Candidate.Key}
	out, err := safeRun(ctx, job, fn)
	if err != nil {
		res.Err = err.Error()
		_, failed := b.record(res, false)
		logger.Warn("run failed", "candidate", job.Candidate.Key, "failed", failed, "error", err)
		return
	}
	res.RunID = out.RunID
	res.Display = out.Display
	completed, failed := b.record(res, true)
	logger.Debug("run completed", "candidate", job.Candidate.Key, "run_id", out.RunID)

	if completed%s.cfg.ProgressEvery == 0 {
		s.emit(ctx, logger, Event{
			Kind: EventProgress, BatchID: b.ID, Total: len(b.Candidates),
			Completed: completed, Failed: failed, Latest: out.Display,
		})
	}
}

func safeRun(ctx context.Context, job Job, fn RunFunc) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return fn(ctx, job)
}

func (s *Scheduler) emit(ctx context.Context, logger *slog.Logger, ev Event) {
	if len(s.notifiers) == 0 {
		return
	}
	ev.At = s.now()
	for _, n := range s.notifiers {
		notifyOne(ctx, logger, n, ev)
	}
}

func notifyOne(ctx context.Context, logger *slog.Logger, n Notifier, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("notifier panicked", "event", ev.Kind, "panic", r)
		}
	}()
	if err := n.Notify(ctx, ev); err != nil {
		logger.Warn("notify failed", "event", ev.Kind, "error", err)
	}
}
