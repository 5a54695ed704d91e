package model

import (
	"errors"
	"fmt"
	"strings"
)

// busyError signals that a release could not proceed because the model is in
// use or mid-transition.
type busyError struct {
	state  State
	active int
}

func (e busyError) Error() string {
	if e.active > 0 {
		return fmt.Sprintf("model busy: %d active lease(s)", e.active)
	}
	return "model busy: " + string(e.state)
}

// IsBusy reports whether err indicates a refused release.
func IsBusy(err error) bool {
	var be busyError
	return errors.As(err, &be)
}

// unavailableError wraps a failed model load.
type unavailableError struct{ err error }

func (e unavailableError) Error() string { return "model unavailable: " + e.err.Error() }

func (e unavailableError) Unwrap() error { return e.err }

// IsUnavailable reports whether err indicates the model could not be loaded.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}

// dependencyUnavailableError signals a missing external dependency (model
// server binary, tesseract support) so callers can report 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// outOfMemoryError marks a recognition failure caused by device memory exhaustion.
type outOfMemoryError struct{ msg string }

func (e outOfMemoryError) Error() string { return "out of memory: " + e.msg }

// ErrOutOfMemory constructs an out-of-memory error.
func ErrOutOfMemory(msg string) error { return outOfMemoryError{msg: msg} }

// backendGoneError means the model server disappeared underneath a loaded handle.
type backendGoneError struct{ err error }

func (e backendGoneError) Error() string { return "model backend gone: " + e.err.Error() }

func (e backendGoneError) Unwrap() error { return e.err }

// IsBackendGone reports whether err indicates the backend process is no longer reachable.
func IsBackendGone(err error) bool {
	var ge backendGoneError
	return errors.As(err, &ge)
}

var oomMarkers = []string{"out of memory", "outofmemory", "cuda oom", "cuda error: out of memory", "cublas_status_alloc_failed"}

// IsOutOfMemory reports whether err looks like a device memory failure, either
// typed or as reported in text by the model server.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	var oe outOfMemoryError
	if errors.As(err, &oe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range oomMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ShouldReclaim reports whether a failed recognition call should be followed
// by a best-effort release so the next job starts from a fresh model.
func ShouldReclaim(err error) bool { return IsOutOfMemory(err) || IsBackendGone(err) }
