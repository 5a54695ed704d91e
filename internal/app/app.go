// Package app composes the model resource, the job executor and the job
// ledger into the Service that the HTTP and tool surfaces call.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"ocrd/internal/job"
	"ocrd/internal/jobstore"
	"ocrd/internal/model"
	"ocrd/internal/reaper"
	"ocrd/internal/workerpool"
)

// ErrArchiveNotFound is returned by ArchivePath for unknown or unsafe names.
var ErrArchiveNotFound = errors.New("archive not found")

// Service is the application core shared by every surface.
type Service struct {
	exec       *job.Executor
	model      *model.Resource
	pool       *workerpool.Pool
	store      jobstore.Store
	sweeper    *reaper.Sweeper
	archiveDir string
	log        zerolog.Logger
}

// Submit runs a job to completion.
func (s *Service) Submit(ctx context.Context, sub job.Submission) job.Result {
	return s.exec.Submit(ctx, sub)
}

// ModelStatus reports the model lifecycle and device state.
func (s *Service) ModelStatus(ctx context.Context) model.Status { return s.model.Status(ctx) }

// ModelInfo describes the loaded model.
func (s *Service) ModelInfo(ctx context.Context) model.Info { return s.model.Info(ctx) }

// ReleaseModel unloads the model; see model.Resource.Release.
func (s *Service) ReleaseModel(ctx context.Context, force bool) error {
	return s.model.Release(ctx, force)
}

// Ready is false while the model is loading or draining.
func (s *Service) Ready() bool { return s.model.Ready() }

// Job returns one ledger record.
func (s *Service) Job(ctx context.Context, id string) (jobstore.Record, error) {
	return s.store.Get(ctx, id)
}

// Jobs lists recent ledger records, newest first.
func (s *Service) Jobs(ctx context.Context, limit int) ([]jobstore.Record, error) {
	return s.store.List(ctx, limit)
}

// ArchivePath maps a download name to a file in the archive directory. Names
// with path components are rejected.
func (s *Service) ArchivePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".zip") {
		return "", ErrArchiveNotFound
	}
	p := filepath.Join(s.archiveDir, name)
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return "", ErrArchiveNotFound
	}
	return p, nil
}

// Preload loads the model eagerly.
func (s *Service) Preload(ctx context.Context) error {
	lease, err := s.model.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("preload model: %w", err)
	}
	lease.Release()
	return nil
}

// Start launches background housekeeping: idle release and archive expiry.
// Both stop when ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.model.StartIdleWatcher(ctx)
	if s.sweeper != nil {
		s.sweeper.Start(ctx)
	}
}

// Close drains the worker pool, releases the model and closes the ledger.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}
	if err := s.model.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release model: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close job store: %w", err))
	}
	if left := s.exec.Reaper().Outstanding(); len(left) > 0 {
		s.log.Warn().Strs("jobs", left).Msg("jobs still hold temporary files at shutdown")
	}
	return errors.Join(errs...)
}
