package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error recovered from a panic
type PanicError struct {
	Value      interface{} // The panic value
	Stacktrace string      // Full stack trace
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// FromPanic wraps a value returned by recover() with the current stack.
// Returns nil if v is nil (no panic occurred).
func FromPanic(v interface{}) *PanicError {
	if v == nil {
		return nil
	}
	return &PanicError{
		Value:      v,
		Stacktrace: string(debug.Stack()),
	}
}

// Safe runs fn and converts a panic into a *PanicError
func Safe(fn func() error) (err error) {
	defer func() {
		if p := FromPanic(recover()); p != nil {
			err = p
		}
	}()
	return fn()
}
