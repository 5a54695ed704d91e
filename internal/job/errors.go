package job

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed or partially failed job.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindInference        ErrorKind = "inference"
	KindIO               ErrorKind = "io"
	KindPartialFailure   ErrorKind = "partial_failure"
)

type jobError struct {
	kind ErrorKind
	msg  string
	err  error
}

func (e *jobError) Error() string {
	if e.err != nil && e.msg != "" {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.msg
}

func (e *jobError) Unwrap() error { return e.err }

func validationErr(format string, args ...any) error {
	return &jobError{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func kindErr(kind ErrorKind, msg string, err error) error {
	return &jobError{kind: kind, msg: msg, err: err}
}

// KindOf returns the kind of err, or "" when err is not a job error.
func KindOf(err error) ErrorKind {
	var je *jobError
	if errors.As(err, &je) {
		return je.kind
	}
	return ""
}

// IsValidation reports whether err rejects the input itself.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
