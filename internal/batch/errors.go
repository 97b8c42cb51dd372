package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCandidates is returned when a batch is scheduled with nothing to run.
	ErrNoCandidates = errors.New("batch: no candidates")

	// ErrSelection is returned when the candidate provider fails.
	ErrSelection = errors.New("batch: candidate selection failed")

	// ErrPersistence is returned when the store is unreachable before any run.
	ErrPersistence = errors.New("batch: persistence unavailable")

	// ErrNoCompletedRuns is returned when a stored batch has nothing to rank.
	ErrNoCompletedRuns = errors.New("batch: no completed runs")
)

// SchedulingError is a batch-level failure: nothing (or nothing further)
// could be scheduled.
type SchedulingError struct {
	BatchID string
	Err     error
}

func (e *SchedulingError) Error() string {
	if e.BatchID == "" {
		return fmt.Sprintf("schedule batch: %v", e.Err)
	}
	return fmt.Sprintf("schedule batch %s: %v", e.BatchID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }
