// Package store persists poll outcomes and in-flight operation handles.
package store

import (
	"context"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/operation"
)

// Backend defines the interface for storing and retrieving outcomes
type Backend interface {
	// StoreOutcome stores a finished outcome and notifies waiters
	StoreOutcome(ctx context.Context, o *operation.Outcome) error

	// GetOutcome retrieves an outcome by session ID.
	// Returns nil if it doesn't exist (session still running or expired)
	GetOutcome(ctx context.Context, sessionID string) (*operation.Outcome, error)

	// GetLatestOutcome retrieves the most recent outcome for an operation name
	GetLatestOutcome(ctx context.Context, name string) (*operation.Outcome, error)

	// WaitForOutcome blocks until the outcome is available or the timeout is reached.
	// Returns nil and no error on timeout
	WaitForOutcome(ctx context.Context, sessionID string, timeout time.Duration) (*operation.Outcome, error)

	// DeleteOutcome removes an outcome; missing outcomes are not an error
	DeleteOutcome(ctx context.Context, sessionID string) error

	// Close closes any connections used by the backend
	Close() error
}
