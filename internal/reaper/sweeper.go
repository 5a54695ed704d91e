package reaper

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper deletes archives older than MaxAge from Dir. Archives are served
// after their job ends, so they outlive job scopes and need their own expiry.
type Sweeper struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
	// Pattern selects files to consider; defaults to "*.zip".
	Pattern string
	Log     zerolog.Logger
}

// SweepOnce removes expired files and returns how many were deleted.
func (s *Sweeper) SweepOnce() (int, error) {
	if s.MaxAge <= 0 || s.Dir == "" {
		return 0, nil
	}
	pattern := s.Pattern
	if pattern == "" {
		pattern = "*.zip"
	}
	matches, err := filepath.Glob(filepath.Join(s.Dir, pattern))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.MaxAge)
	n := 0
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			s.Log.Warn().Str("path", m).Err(err).Msg("archive sweep failed")
			continue
		}
		n++
	}
	if n > 0 {
		archivesSwept.Add(float64(n))
		s.Log.Info().Int("removed", n).Str("dir", s.Dir).Msg("expired archives removed")
	}
	return n, nil
}

// Start runs SweepOnce every Interval until ctx is done. Disabled when MaxAge
// is not positive.
func (s *Sweeper) Start(ctx context.Context) {
	if s.MaxAge <= 0 {
		return
	}
	iv := s.Interval
	if iv <= 0 {
		iv = s.MaxAge / 4
		if iv < time.Minute {
			iv = time.Minute
		}
	}
	go func() {
		t := time.NewTicker(iv)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := s.SweepOnce(); err != nil {
					s.Log.Warn().Err(err).Msg("archive sweep")
				}
			}
		}
	}()
}
