package pipeerr

import (
	"errors"
	"fmt"
)

// Transient marks an error as retryable: external service or network failure
// that a later attempt may clear. The stage executor retries these with
// exponential backoff up to the run's retry budget.
type Transient struct {
	Err error
}

func (e *Transient) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *Transient) Unwrap() error { return e.Err }

func Transientf(format string, args ...any) error {
	return &Transient{Err: fmt.Errorf(format, args...)}
}

// InvalidData marks a stage result as implausible (e.g. zero items processed
// against a nonzero input set). Never retried; the run fails for manual
// inspection.
type InvalidData struct {
	Err error
}

func (e *InvalidData) Error() string {
	if e == nil || e.Err == nil {
		return "invalid data"
	}
	return e.Err.Error()
}

func (e *InvalidData) Unwrap() error { return e.Err }

func InvalidDataf(format string, args ...any) error {
	return &InvalidData{Err: fmt.Errorf(format, args...)}
}

// MissingRights is fatal for one entity only: the entity is excluded from the
// graph and the stage continues. It is never retried.
type MissingRights struct {
	Pool string
	Key  string
}

func (e *MissingRights) Error() string {
	if e == nil {
		return "missing rights reference"
	}
	return fmt.Sprintf("missing rights reference for %s/%s", e.Pool, e.Key)
}

// Abort is an explicit operator-triggered abort. The run transitions to
// failed immediately regardless of remaining retry budget.
type Abort struct {
	Reason string
}

func (e *Abort) Error() string {
	if e == nil || e.Reason == "" {
		return "pipeline aborted"
	}
	return "pipeline aborted: " + e.Reason
}

func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

func IsInvalidData(err error) bool {
	var v *InvalidData
	return errors.As(err, &v)
}

func IsMissingRights(err error) bool {
	var m *MissingRights
	return errors.As(err, &m)
}

func IsAbort(err error) bool {
	var a *Abort
	return errors.As(err, &a)
}

// Retryable reports whether the stage executor may retry after this error.
// Only transient failures are retryable; structural and validation failures
// surface immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAbort(err) || IsInvalidData(err) || IsMissingRights(err) {
		return false
	}
	return IsTransient(err)
}
