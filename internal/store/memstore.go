package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"contentmill/internal/pipeline"
)

// MemStore is an in-memory Store. Reads return copies.
type MemStore struct {
	mu      sync.RWMutex
	runs    map[string]*RunRecord
	events  map[string][]pipeline.StepRecord
	batches map[string]*BatchRecord
	order   []string // batch ids in creation order
	now     func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:    make(map[string]*RunRecord),
		events:  make(map[string][]pipeline.StepRecord),
		batches: make(map[string]*BatchRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemStore) CreateRun(_ context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("create run: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.runs[rec.ID]; ok {
		rec.CreatedAt = cur.CreatedAt
		if rec.Status == "" {
			rec.Status = cur.Status
		}
	} else {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = pipeline.RunDraft
	}
	rec.UpdatedAt = now
	s.runs[rec.ID] = &rec
	return nil
}

func (s *MemStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) ListRuns(_ context.Context, batchID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RunRecord
	for _, r := range s.runs {
		if batchID == "" || r.BatchID == batchID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) RecordStep(_ context.Context, rec pipeline.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[rec.RunID] = append(s.events[rec.RunID], rec)
	return nil
}

func (s *MemStore) StepEvents(_ context.Context, runID string) ([]pipeline.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pipeline.StepRecord(nil), s.events[runID]...), nil
}

func (s *MemStore) RecordRunStatus(_ context.Context, runID string, status pipeline.RunStatus, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r, ok := s.runs[runID]
	if !ok {
		r = &RunRecord{ID: runID, CreatedAt: now}
		s.runs[runID] = r
	}
	r.Status = status
	r.Err = cause
	r.UpdatedAt = now
	return nil
}

func (s *MemStore) LoadRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, _ := s.StepEvents(ctx, runID)
	return pipeline.RestoreRun(rec.ID, rec.Seed, rec.Status, events)
}

func (s *MemStore) RecordBatch(_ context.Context, rec BatchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record batch: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.batches[rec.ID]; ok {
		rec.CreatedAt = cur.CreatedAt
	} else {
		rec.CreatedAt = now
		s.order = append(s.order, rec.ID)
	}
	rec.UpdatedAt = now
	rec.FailedKeys = append([]string(nil), rec.FailedKeys...)
	s.batches[rec.ID] = &rec
	return nil
}

func (s *MemStore) GetBatch(_ context.Context, batchID string) (*BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	cp := *b
	cp.FailedKeys = append([]string(nil), b.FailedKeys...)
	return &cp, nil
}

func (s *MemStore) ListBatches(_ context.Context) ([]BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BatchRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.batches[id])
	}
	return out, nil
}

func (s *MemStore) Ping(context.Context) error { return nil }
func (s *MemStore) Close() error               { return nil }
