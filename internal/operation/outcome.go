package operation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind is the terminal result of a poll session
type OutcomeKind string

const (
	// OutcomeSucceeded indicates the backend reported success
	OutcomeSucceeded OutcomeKind = "succeeded"
	// OutcomeFailed indicates the backend reported failure
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeTimedOut indicates no terminal state was seen within the max wait
	OutcomeTimedOut OutcomeKind = "timed_out"
	// OutcomePollError indicates status could not be read (true state unknown)
	OutcomePollError OutcomeKind = "poll_error"
	// OutcomeCancelled indicates the caller abandoned the wait
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeAlreadyExists indicates submission was skipped because the target already exists
	OutcomeAlreadyExists OutcomeKind = "already_exists"
)

// Outcome is the single result produced by a poll session
type Outcome struct {
	// SessionID uniquely identifies the poll session
	SessionID string `json:"session_id"`
	// Handle is the operation that was awaited
	Handle Handle `json:"handle"`
	// Kind is the terminal result
	Kind OutcomeKind `json:"kind"`
	// Detail is the last backend detail or error text, verbatim
	Detail string `json:"detail,omitempty"`
	// Status is the last raw backend status seen
	Status string `json:"status,omitempty"`
	// Payload is the last status response body (success payload for Succeeded)
	Payload json.RawMessage `json:"payload,omitempty"`
	// Polls is the number of status queries issued
	Polls int `json:"polls"`
	// StartedAt is when the session began waiting
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the outcome was produced
	FinishedAt time.Time `json:"finished_at"`
	// Elapsed is the wall-clock wait
	Elapsed time.Duration `json:"elapsed"`

	err error
}

// NewSessionID returns a fresh poll session identifier
func NewSessionID() string {
	return uuid.New().String()
}

// IsSuccess returns true if the caller can continue with the next step
func (o *Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSucceeded || o.Kind == OutcomeAlreadyExists
}

// IsTerminalFailure returns true for outcomes that are fatal to the workflow step
func (o *Outcome) IsTerminalFailure() bool {
	return o.Kind == OutcomeFailed
}

// Recoverable returns true when the backend's true state is unknown and the
// caller may re-poll with a fresh session
func (o *Outcome) Recoverable() bool {
	return o.Kind == OutcomeTimedOut || o.Kind == OutcomePollError
}

// WithCause attaches the underlying error returned by Err
func (o *Outcome) WithCause(err error) *Outcome {
	o.err = err
	return o
}

// Err returns the typed error for the outcome, or nil for successful outcomes
func (o *Outcome) Err() error {
	switch o.Kind {
	case OutcomeSucceeded, OutcomeAlreadyExists:
		return nil
	case OutcomeFailed:
		return &FailedError{Status: o.Status, Detail: o.Detail}
	case OutcomeTimedOut:
		return &TimeoutError{Elapsed: o.Elapsed, Status: o.Status}
	case OutcomePollError:
		return &PollingError{Attempts: o.Polls, Detail: o.Detail, Err: o.err}
	case OutcomeCancelled:
		return &CancelledError{Err: o.err}
	default:
		return &ResultError{Message: "unknown outcome kind: " + string(o.Kind)}
	}
}

// UnmarshalPayload unmarshals the outcome payload into the provided destination.
// Returns an error if the outcome is not a success.
func (o *Outcome) UnmarshalPayload(dest interface{}) error {
	if err := o.Err(); err != nil {
		return err
	}
	if len(o.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(o.Payload, dest)
}
