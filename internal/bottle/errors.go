package bottle

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both "no such bottle" and "not yours": the two cases
// are deliberately indistinguishable so a caller cannot probe whether a
// bottle exists without holding it.
var ErrNotFound = errors.New("bottle not found or access denied")

// ValidationError reports malformed or oversized input. Caller's fault,
// never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ConflictError reports that the user already holds an active pick. The
// existing bottle id is carried so the client can resume that thread
// instead of picking a new one.
type ConflictError struct {
	ExistingBottleID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user already holds an active bottle %s", e.ExistingBottleID)
}

// StoreUnavailableError wraps a transient store fault. Safe to retry with
// backoff at the caller's discretion.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("bottle store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
