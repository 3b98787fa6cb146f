// Package store persists per-worker pipeline state: the checkpoint written
// before each item is processed, and the accumulated partial results. Records
// are addressed by (job id, worker id). Implementations must tolerate
// overwrite-in-place semantics; a lost newest checkpoint only makes recovery
// one item stale.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/subvault/subvault/pkg/work"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Checkpoint is the durable snapshot of one worker's in-flight item.
type Checkpoint struct {
	JobID     string    `json:"job_id"`
	WorkerID  int       `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
	Item      work.Item `json:"current_item"`
	Processed int64     `json:"items_processed"`
}

// CheckpointStore saves and restores worker checkpoints.
type CheckpointStore interface {
	// SaveCheckpoint overwrites the worker's checkpoint. Best effort: the
	// caller proceeds even when the write fails.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns the worker's checkpoint, or ErrNotFound.
	// Read once, at worker startup, to recover from a prior crash.
	LoadCheckpoint(ctx context.Context, jobID string, workerID int) (*Checkpoint, error)

	// DeleteCheckpoint removes the worker's checkpoint.
	DeleteCheckpoint(ctx context.Context, jobID string, workerID int) error
}

// ResultStore saves and lists per-worker partial result documents.
type ResultStore interface {
	// SaveResults overwrites the worker's accumulated output document.
	SaveResults(ctx context.Context, jobID string, workerID int, payload []byte) error

	// LoadResults returns the worker's output document, or ErrNotFound.
	LoadResults(ctx context.Context, jobID string, workerID int) ([]byte, error)

	// ListWorkers returns the worker ids that have saved results for a job.
	ListWorkers(ctx context.Context, jobID string) ([]int, error)
}

// Store combines checkpoint and result persistence behind one backend.
type Store interface {
	CheckpointStore
	ResultStore
}
