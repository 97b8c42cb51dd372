package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"contentmill/internal/logging"
	"contentmill/internal/pipeline"
	"contentmill/internal/ranking"
	"contentmill/internal/scoring"
	"contentmill/internal/store"
)

// Output keys read from a finished run to build its ranking artifact.
const (
	TitleKey   pipeline.Key = "title"
	KeywordKey pipeline.Key = "keyword"
	TopicKey   pipeline.Key = "topic"
)

// CandidateProvider supplies the pool a batch selects from.
type CandidateProvider interface {
	Candidates(ctx context.Context) ([]scoring.Candidate, error)
}

// Archiver stores a finished batch report somewhere durable. Failures are
// logged only.
type Archiver interface {
	Archive(ctx context.Context, name string, v any) error
}

// UsageMarker is implemented by providers that track when a candidate was
// last used, so later batches rotate to fresher topics.
type UsageMarker interface {
	MarkUsed(t time.Time, keys ...string)
}

// SeedFunc turns a selected candidate into a run seed.
type SeedFunc func(c scoring.ScoredCandidate) pipeline.Seed

// DefaultSeed seeds the topic with the candidate's display text.
func DefaultSeed(c scoring.ScoredCandidate) pipeline.Seed {
	return pipeline.Seed{TopicKey: c.Display}
}

// Request describes one batch.
type Request struct {
	BatchID     string
	TargetCount int
	Strategy    scoring.Strategy
	// Notifier, when set, receives this batch's events in addition to the
	// scheduler's own notifiers.
	Notifier Notifier
}

// Report is the outcome of Service.Run.
type Report struct {
	Batch     Summary                   `json:"batch"`
	Selected  []scoring.ScoredCandidate `json:"selected"`
	Artifacts []ranking.Artifact        `json:"artifacts"`
	Ranking   ranking.Result            `json:"ranking"`
	Degraded  string                    `json:"degraded,omitempty"`
}

// Service selects candidates, runs the pipeline for each under the
// scheduler, then ranks what came out.
type Service struct {
	store     store.Store
	orch      *pipeline.Orchestrator
	scorer    *scoring.Engine
	ranker    *ranking.Engine
	provider  CandidateProvider
	scheduler *Scheduler
	archiver  Archiver
	seed      SeedFunc
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithArchiver(a Archiver) ServiceOption { return func(s *Service) { s.archiver = a } }
func WithSeedFunc(f SeedFunc) ServiceOption { return func(s *Service) { s.seed = f } }
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService wires a batch service. All arguments are required.
func NewService(st store.Store, orch *pipeline.Orchestrator, scorer *scoring.Engine, ranker *ranking.Engine,
	provider CandidateProvider, sched *Scheduler, opts ...ServiceOption) *Service {
	s := &Service{
		store:     st,
		orch:      orch,
		scorer:    scorer,
		ranker:    ranker,
		provider:  provider,
		scheduler: sched,
		seed:      DefaultSeed,
		logger:    logging.New("batch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select scores the provider's candidates and returns the top n under
// strategy. n <= 0 keeps every candidate.
func (s *Service) Select(ctx context.Context, strategy scoring.Strategy, n int) ([]scoring.ScoredCandidate, error) {
	cmpFn, err := scoring.ComparatorFor(strategy)
	if err != nil {
		return nil, err
	}
	cands, err := s.provider.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelection, err)
	}
	sorted := scoring.Sort(s.scorer.ScoreAll(cands), cmpFn)
	if n <= 0 {
		return sorted, nil
	}
	return scoring.Select(sorted, n), nil
}

// Run executes one batch end to end. Batch-level failures (store down,
// provider error, nothing selected) return a *SchedulingError; individual
// run failures only show up in the report.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	logger := s.logger.With("batch_id", req.BatchID)

	if err := s.store.Ping(ctx); err != nil {
		return nil, &SchedulingError{BatchID: req.BatchID, Err: fmt.Errorf("%w: %v", ErrPersistence, err)}
	}
	selected, err := s.Select(ctx, req.Strategy, req.TargetCount)
	if err != nil {
		return nil, &SchedulingError{BatchID: req.BatchID, Err: err}
	}

	b := NewBatchRun(req.BatchID, req.TargetCount, selected)
	if err := s.store.RecordBatch(ctx, batchRecord(b)); err != nil {
		return nil, &SchedulingError{BatchID: req.BatchID, Err: fmt.Errorf("%w: %v", ErrPersistence, err)}
	}

	var (
		mu        sync.Mutex
		artifacts []ranking.Artifact
	)
	sched := s.scheduler
	if req.Notifier != nil {
		sched = sched.With(req.Notifier)
	}
	schedErr := sched.Schedule(ctx, b, func(ctx context.Context, job Job) (Outcome, error) {
		art, err := s.runOne(ctx, req.BatchID, job)
		if err != nil {
			return Outcome{}, err
		}
		mu.Lock()
		artifacts = append(artifacts, art)
		mu.Unlock()
		return Outcome{RunID: art.ID, Display: art.Display}, nil
	})

	rep := &Report{Selected: selected, Artifacts: artifacts}
	if len(artifacts) > 0 {
		rep.Ranking = s.ranker.Rank(ctx, artifacts)
		if d := rep.Ranking.Degradation; d != nil {
			rep.Degraded = d.Error()
		}
	}
	rep.Batch = b.Snapshot()
	if m, ok := s.provider.(UsageMarker); ok {
		var used []string
		for _, r := range rep.Batch.Results {
			if r.Err == "" {
				used = append(used, r.Key)
			}
		}
		m.MarkUsed(time.Now(), used...)
	}

	final := context.WithoutCancel(ctx)
	if err := s.store.RecordBatch(final, batchRecord(b)); err != nil {
		logger.Warn("record batch failed", "error", err)
	}
	if s.archiver != nil && len(b.Candidates) > 0 {
		if err := s.archiver.Archive(final, "batches/"+req.BatchID+".json", rep); err != nil {
			logger.Warn("archive failed", "error", err)
		}
	}
	return rep, schedErr
}

func (s *Service) runOne(ctx context.Context, batchID string, job Job) (ranking.Artifact, error) {
	runID := uuid.NewString()
	seed := s.seed(job.Candidate)
	if err := s.store.CreateRun(ctx, store.RunRecord{
		ID: runID, BatchID: batchID, CandidateKey: job.Candidate.Key, Seed: seed, Status: pipeline.RunDraft,
	}); err != nil {
		return ranking.Artifact{}, fmt.Errorf("create run: %w", err)
	}
	run, _, err := s.orch.RunAllWithID(ctx, runID, seed, nil)
	if err != nil {
		return ranking.Artifact{}, err
	}
	return ArtifactFor(run, job.Candidate, len(s.orch.Registry().Steps())), nil
}

// RankStored ranks the completed runs recorded for batchID. Selection
// scores come from the current candidate pool; a candidate that left the
// pool is scored with no metrics.
func (s *Service) RankStored(ctx context.Context, batchID string) (ranking.Result, error) {
	runs, err := s.store.ListRuns(ctx, batchID)
	if err != nil {
		return ranking.Result{}, fmt.Errorf("list runs for %s: %w", batchID, err)
	}
	byKey := make(map[string]scoring.ScoredCandidate)
	if cands, err := s.provider.Candidates(ctx); err != nil {
		s.logger.Warn("candidate pool unavailable, scoring stored runs without metrics", "batch_id", batchID, "error", err)
	} else {
		for _, sc := range s.scorer.ScoreAll(cands) {
			byKey[sc.Key] = sc
		}
	}

	total := len(s.orch.Registry().Steps())
	var arts []ranking.Artifact
	for _, rec := range runs {
		if rec.Status != pipeline.RunCompleted {
			continue
		}
		run, err := s.store.LoadRun(ctx, rec.ID)
		if err != nil {
			return ranking.Result{}, fmt.Errorf("load run %s: %w", rec.ID, err)
		}
		c, ok := byKey[rec.CandidateKey]
		if !ok {
			topic, _ := rec.Seed[TopicKey].(string)
			c = s.scorer.Score(scoring.Candidate{Key: rec.CandidateKey, Display: topic})
		}
		arts = append(arts, ArtifactFor(run, c, total))
	}
	if len(arts) == 0 {
		return ranking.Result{}, fmt.Errorf("batch %s: %w", batchID, ErrNoCompletedRuns)
	}
	return s.ranker.Rank(ctx, arts), nil
}

// ArtifactFor summarizes a completed run for ranking.
func ArtifactFor(run *pipeline.Run, c scoring.ScoredCandidate, totalSteps int) ranking.Artifact {
	art := ranking.Artifact{
		ID:             run.ID,
		Key:            c.Key,
		Display:        c.Display,
		SelectionScore: c.Score,
	}
	if v, ok := run.Output(TitleKey); ok {
		if t := text(v, string(TitleKey)); t != "" {
			art.Display = t
		}
	}
	if v, ok := run.Output(KeywordKey); ok {
		art.Keyword = text(v, string(KeywordKey))
	}
	if art.Keyword != "" {
		in := strings.Contains(strings.ToLower(art.Display), strings.ToLower(art.Keyword))
		art.KeywordInTitle = &in
	}

	parsed := 0
	for _, steps := range run.PhaseResults {
		for _, r := range steps {
			if r.Parsed {
				parsed++
			}
		}
	}
	if totalSteps > 0 {
		art.Completeness = float64(parsed) / float64(totalSteps)
	}
	return art
}

// text reads a value as a plain string, or as an object's field of the
// same name.
func text(v pipeline.Value, field string) string {
	var s string
	if err := json.Unmarshal(v.Data, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v.Data, &obj); err == nil {
		if err := json.Unmarshal(obj[field], &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func batchRecord(b *BatchRun) store.BatchRecord {
	rec := store.BatchRecord{
		ID:          b.ID,
		TargetCount: b.TargetCount,
		Status:      string(b.Status()),
		Completed:   b.Completed(),
		Failed:      b.Failed(),
		FailedKeys:  b.FailedKeys(),
	}
	if err := b.Err(); err != nil {
		rec.Err = err.Error()
	}
	return rec
}
