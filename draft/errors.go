package draft

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a draft does not exist, or belongs to
	// somebody else.
	ErrNotFound = errors.New("draft not found")
	// ErrOffline is the failure recorded when a save is attempted while
	// connectivity is known to be down.
	ErrOffline = errors.New("offline")
	// ErrUnauthorized is returned when the store rejects the caller.
	ErrUnauthorized = errors.New("unauthorized")
)

// A ValidationError is a store rejection of a malformed payload.  Retrying
// the same payload will fail the same way.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Field) > 0 {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "invalid payload: " + e.Message
}

// A TransientError wraps timeouts, connectivity loss and server faults.
// The same request may succeed later.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying automatically.
func IsTransient(err error) bool {
	var te *TransientError
	switch {
	case err == nil:
		return false
	case errors.As(err, &te):
		return true
	case errors.Is(err, ErrOffline), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
