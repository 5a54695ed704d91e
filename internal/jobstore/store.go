// Package jobstore keeps the job ledger: one record per submitted job with
// its latest status.
package jobstore

import (
	"context"
	"errors"
	"time"

	"ocrd/pkg/types"
)

// ErrNotFound is returned by Get for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Record is the ledger entry for a job.
type Record struct {
	ID          string
	DocName     string
	Task        types.TaskKind
	Split       bool
	Status      types.JobStatus
	ErrorKind   string
	Message     string
	Pages       int
	FailedPages []int
	Archive     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists job records. Put inserts or replaces by ID.
type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns the newest records first, at most limit (0 means all).
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
