// Package store persists runs, step events and batch outcomes.
package store

import (
	"context"
	"errors"
	"time"

	"contentmill/internal/pipeline"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open creates the parent directory if it does not exist.
const DefaultDBPath = ".contentmill/contentmill.db"

// ErrNotFound is returned when a run or batch does not exist.
var ErrNotFound = errors.New("store: not found")

// RunRecord is the stored header of one pipeline run.
type RunRecord struct {
	ID           string             `json:"id"`
	BatchID      string             `json:"batch_id,omitempty"`
	CandidateKey string             `json:"candidate_key,omitempty"`
	Seed         pipeline.Seed      `json:"seed"`
	Status       pipeline.RunStatus `json:"status"`
	Err          string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// BatchRecord is the stored summary of one batch.
type BatchRecord struct {
	ID          string    `json:"id"`
	TargetCount int       `json:"target_count"`
	Status      string    `json:"status"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	FailedKeys  []string  `json:"failed_keys,omitempty"`
	Err         string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the persistence facade. Step events are append-only; run and
// batch headers are upserted.
type Store interface {
	pipeline.Recorder
	pipeline.StateLoader

	CreateRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, batchID string) ([]RunRecord, error)
	StepEvents(ctx context.Context, runID string) ([]pipeline.StepRecord, error)

	RecordBatch(ctx context.Context, rec BatchRecord) error
	GetBatch(ctx context.Context, batchID string) (*BatchRecord, error)
	ListBatches(ctx context.Context) ([]BatchRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
