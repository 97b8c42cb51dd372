// Package batch fans pipeline runs out across candidates under a
// concurrency cap and aggregates their outcomes.
package batch

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"contentmill/internal/scoring"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// StatusFor applies the outcome rule: no failures is completed, no
// successes with failures is failed, anything else is partial.
func StatusFor(completed, failed int) Status {
	switch {
	case failed == 0:
		return StatusCompleted
	case completed == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// RunResult is the outcome of one candidate's run.
type RunResult struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	RunID   string `json:"run_id,omitempty"`
	Display string `json:"display,omitempty"`
	Err     string `json:"error,omitempty"`
}

// BatchRun tracks one batch. Counters are safe for concurrent use by the
// scheduler's workers.
type BatchRun struct {
	ID          string
	TargetCount int
	Candidates  []scoring.ScoredCandidate

	completed  atomic.Int64
	failed     atomic.Int64
	dispatched atomic.Int64

	mu      sync.Mutex
	results []RunResult
	status  Status
	err     error
}

// NewBatchRun creates a running batch over candidates.
func NewBatchRun(id string, target int, candidates []scoring.ScoredCandidate) *BatchRun {
	return &BatchRun{ID: id, TargetCount: target, Candidates: candidates, status: StatusRunning}
}

func (b *BatchRun) Completed() int  { return int(b.completed.Load()) }
func (b *BatchRun) Failed() int     { return int(b.failed.Load()) }
func (b *BatchRun) Dispatched() int { return int(b.dispatched.Load()) }

func (b *BatchRun) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Err is the batch-level error, if any.
func (b *BatchRun) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *BatchRun) record(r RunResult, ok bool) (completed, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, r)
	if ok {
		return int(b.completed.Add(1)), int(b.failed.Load())
	}
	return int(b.completed.Load()), int(b.failed.Add(1))
}

// finish fixes the final status. A batch interrupted before every candidate
// was dispatched is never reported completed. cause is kept on the batch.
func (b *BatchRun) finish(cause error) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, f := int(b.completed.Load()), int(b.failed.Load())
	switch {
	case c == 0:
		b.status = StatusFailed
	case cause != nil && c+f < len(b.Candidates):
		b.status = StatusPartial
	default:
		b.status = StatusFor(c, f)
	}
	switch {
	case cause != nil:
		b.err = cause
	case c == 0 && f > 0:
		b.err = fmt.Errorf("all %d runs failed; first: %s", f, b.firstFailure())
	}
	return b.status
}

// firstFailure returns the error of the lowest-indexed failed run. Callers
// hold b.mu.
func (b *BatchRun) firstFailure() string {
	first := -1
	for i, r := range b.results {
		if r.Err != "" && (first < 0 || r.Index < b.results[first].Index) {
			first = i
		}
	}
	if first < 0 {
		return ""
	}
	return b.results[first].Err
}

// Results returns per-candidate outcomes in candidate order.
func (b *BatchRun) Results() []RunResult {
	b.mu.Lock()
	out := append([]RunResult(nil), b.results...)
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// RunIDs lists the runs that completed, in candidate order.
func (b *BatchRun) RunIDs() []string {
	var out []string
	for _, r := range b.Results() {
		if r.Err == "" {
			out = append(out, r.RunID)
		}
	}
	return out
}

// FailedKeys lists the candidate keys whose runs failed, in candidate order.
func (b *BatchRun) FailedKeys() []string {
	var out []string
	for _, r := range b.Results() {
		if r.Err != "" {
			out = append(out, r.Key)
		}
	}
	return out
}

// Summary is a point-in-time copy of a batch.
type Summary struct {
	ID          string      `json:"id"`
	TargetCount int         `json:"target_count"`
	Candidates  int         `json:"candidates"`
	Dispatched  int         `json:"dispatched"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	Status      Status      `json:"status"`
	FailedKeys  []string    `json:"failed_keys,omitempty"`
	Err         string      `json:"error,omitempty"`
	Results     []RunResult `json:"results,omitempty"`
}

func (b *BatchRun) Snapshot() Summary {
	s := Summary{
		ID:          b.ID,
		TargetCount: b.TargetCount,
		Candidates:  len(b.Candidates),
		Dispatched:  b.Dispatched(),
		Completed:   b.Completed(),
		Failed:      b.Failed(),
		Status:      b.Status(),
		FailedKeys:  b.FailedKeys(),
		Results:     b.Results(),
	}
	if err := b.Err(); err != nil {
		s.Err = err.Error()
	}
	return s
}
