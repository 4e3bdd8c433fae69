package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// State is the classified state of a long-running operation
type State string

const (
	// StateInProgress indicates the backend is still working on the operation
	StateInProgress State = "in_progress"
	// StateSucceeded indicates the backend reported success
	StateSucceeded State = "succeeded"
	// StateFailed indicates the backend reported failure
	StateFailed State = "failed"
)

// IsTerminal returns true if no further transition occurs from this state
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ParseState converts a configuration string into a State
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateInProgress, StateSucceeded, StateFailed:
		return State(s), nil
	default:
		return "", fmt.Errorf("invalid state: %q (must be one of: in_progress, succeeded, failed)", s)
	}
}

// Handle identifies a submitted operation for its whole lifetime
type Handle struct {
	// ID is the opaque identifier returned by the submitter, usually a status URL
	ID string `json:"id"`
	// Name is the logical operation name the handle was issued for
	Name string `json:"name,omitempty"`
	// IssuedAt is when the submitter returned the handle
	IssuedAt time.Time `json:"issued_at"`
}

// NewHandle creates a handle issued now
func NewHandle(id, name string) Handle {
	return Handle{ID: id, Name: name, IssuedAt: time.Now()}
}

// IsZero reports whether the handle was never issued
func (h Handle) IsZero() bool {
	return h.ID == ""
}

func (h Handle) String() string {
	if h.Name == "" {
		return h.ID
	}
	return h.Name + "(" + h.ID + ")"
}

// Snapshot is a point-in-time read of an operation's status.
// A fresh snapshot is produced by every poll; snapshots are never mutated.
type Snapshot struct {
	// State is filled in by the classifier; status sources may leave it empty
	State State `json:"state,omitempty"`
	// Status is the raw backend status string
	Status string `json:"status"`
	// Detail is backend-supplied detail text, kept verbatim
	Detail string `json:"detail,omitempty"`
	// Payload is the raw response body of the status query, if any
	Payload json.RawMessage `json:"payload,omitempty"`
	// RetryAfter is a backend hint for the next poll (zero means no hint)
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Timestamp is when the snapshot was taken
	Timestamp time.Time `json:"timestamp"`
}

// Request describes the initial call that starts an asynchronous backend process
type Request struct {
	// Name is the logical operation name, used as the idempotency key
	Name string `json:"name"`
	// Method is the HTTP method (PUT, POST, ...)
	Method string `json:"method"`
	// URL is the target endpoint
	URL string `json:"url"`
	// Headers are sent with the request
	Headers map[string]string `json:"headers,omitempty"`
	// Body is the request payload
	Body json.RawMessage `json:"body,omitempty"`
}

// Submitter issues the request that starts an operation.
// Submit must be called at most once per logical operation; failures are
// returned as *SubmissionError and are never retried at this layer.
type Submitter interface {
	Submit(ctx context.Context, req *Request) (Handle, error)
}

// StatusSource reads the current status of an operation.
// Transient failures are returned as plain errors; errors wrapped with
// Permanent end the poll session without further attempts.
type StatusSource interface {
	Status(ctx context.Context, h Handle) (*Snapshot, error)
}

// Releaser is implemented by status sources that keep per-handle state.
// The poller calls Release once the session for h has ended.
type Releaser interface {
	Release(h Handle)
}

// StatusFunc adapts a function to the StatusSource interface
type StatusFunc func(ctx context.Context, h Handle) (*Snapshot, error)

// Status calls f(ctx, h)
func (f StatusFunc) Status(ctx context.Context, h Handle) (*Snapshot, error) {
	return f(ctx, h)
}
