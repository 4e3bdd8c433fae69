package operation

import (
	"errors"
	"fmt"
	"time"
)

// SubmissionError is returned when the initiating request fails outright
// (auth failure, malformed request, resource conflict, network failure).
type SubmissionError struct {
	Op         string
	StatusCode int
	Detail     string
	Conflict   bool
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("submit %s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("submit %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("submit %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("submit %s: %s", e.Op, e.Detail)
	}
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PollingError means the status could not be read; the backend operation's
// true state is unknown.
type PollingError struct {
	Attempts int
	Detail   string
	Err      error
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("polling failed after %d queries: %s", e.Attempts, e.Detail)
}

func (e *PollingError) Unwrap() error {
	return e.Err
}

// FailedError means the backend itself reported the operation failed
type FailedError struct {
	Status string
	Detail string
}

func (e *FailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("operation failed (status %s)", e.Status)
	}
	return fmt.Sprintf("operation failed (status %s): %s", e.Status, e.Detail)
}

// TimeoutError means no terminal state was reached within the max wait.
// The backend operation may still be running.
type TimeoutError struct {
	Elapsed time.Duration
	Status  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation still %q after %v", e.Status, e.Elapsed)
}

// CancelledError means the caller abandoned the wait
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	if e.Err == nil {
		return "wait cancelled"
	}
	return fmt.Sprintf("wait cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// ResultError represents an error when retrieving or processing an outcome
type ResultError struct {
	Message string
}

func (e *ResultError) Error() string {
	return e.Message
}

// permanentError marks a status query error that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the poller ends the session instead of retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// deferredError marks a status query that was never sent to the backend
type deferredError struct {
	err error
}

func (e *deferredError) Error() string { return e.err.Error() }
func (e *deferredError) Unwrap() error { return e.err }

// Deferred wraps err so the poller skips this poll without counting it as a
// failed query. Sources use it when they refuse a query locally, such as an
// open circuit breaker.
func Deferred(err error) error {
	if err == nil {
		return nil
	}
	return &deferredError{err: err}
}

// IsDeferred reports whether err was marked with Deferred
func IsDeferred(err error) bool {
	var de *deferredError
	return errors.As(err, &de)
}

// IsSubmissionError reports whether err is (or wraps) a *SubmissionError
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
