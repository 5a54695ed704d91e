// Package reaper guarantees that per-job temporary paths are removed exactly
// once when the job ends, whichever way it ends.
package reaper

import (
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Reaper hands out cleanup scopes and tracks the ones still open.
type Reaper struct {
	mu     sync.Mutex
	open   map[*Scope]struct{}
	log    zerolog.Logger
	remove func(string) error
}

// New returns a Reaper. A nil logger disables logging.
func New(log *zerolog.Logger) *Reaper {
	r := &Reaper{open: make(map[*Scope]struct{}), log: zerolog.Nop(), remove: os.RemoveAll}
	if log != nil {
		r.log = log.With().Str("component", "reaper").Logger()
	}
	return r
}

// Scope collects the paths owned by one job.
type Scope struct {
	r      *Reaper
	jobID  string
	mu     sync.Mutex
	paths  []string
	closed bool
	once   sync.Once
	err    error
}

// Begin opens a scope for jobID.
func (r *Reaper) Begin(jobID string) *Scope {
	s := &Scope{r: r, jobID: jobID}
	r.mu.Lock()
	r.open[s] = struct{}{}
	r.mu.Unlock()
	scopesOpen.Inc()
	return s
}

// JobID returns the job the scope belongs to.
func (s *Scope) JobID() string { return s.jobID }

// Track registers path for removal at Close. Tracking on a closed scope
// removes the path immediately.
func (s *Scope) Track(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err := s.r.remove(path); err != nil {
			s.r.log.Warn().Str("job_id", s.jobID).Str("path", path).Err(err).Msg("late cleanup failed")
		}
		return
	}
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

// Close removes every tracked path, most recent first. Subsequent calls
// return the first call's result.
func (s *Scope) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		paths := s.paths
		s.paths = nil
		s.mu.Unlock()

		var errs []error
		for i := len(paths) - 1; i >= 0; i-- {
			if err := s.r.remove(paths[i]); err != nil {
				errs = append(errs, err)
				cleanupFailures.Inc()
				s.r.log.Warn().Str("job_id", s.jobID).Str("path", paths[i]).Err(err).Msg("cleanup failed")
				continue
			}
			pathsRemoved.Inc()
		}
		s.err = errors.Join(errs...)

		s.r.mu.Lock()
		delete(s.r.open, s)
		s.r.mu.Unlock()
		scopesOpen.Dec()
		s.r.log.Debug().Str("job_id", s.jobID).Int("paths", len(paths)).Msg("scope closed")
	})
	return s.err
}

// Outstanding returns the job IDs of scopes not yet closed, sorted.
func (r *Reaper) Outstanding() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.open))
	for s := range r.open {
		ids = append(ids, s.jobID)
	}
	sort.Strings(ids)
	return ids
}
