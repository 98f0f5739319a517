package manager

import (
	"errors"
	"fmt"

	"lazyd/internal/lazy"
	"lazyd/internal/worker"
)

// notFoundError reports a worker id that is not registered (or, for Load,
// not configured).
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "worker not found: " + e.id }

// ErrNotFound returns the error for a missing worker id.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing worker id.
func IsNotFound(err error) bool {
	var e notFoundError
	return errors.As(err, &e)
}

// conflictError refuses an unload while requests are in flight.
type conflictError struct {
	id     string
	active int
}

func (e conflictError) Error() string {
	return fmt.Sprintf("worker %s has %d active requests", e.id, e.active)
}

// ErrConflict returns the refusal for unloading a worker with active requests.
func ErrConflict(id string, active int) error { return conflictError{id: id, active: active} }

// IsConflict reports whether err is a busy-unload refusal.
func IsConflict(err error) bool {
	var e conflictError
	return errors.As(err, &e)
}

// ConflictActive returns the active request count carried by a conflict error.
func ConflictActive(err error) (int, bool) {
	var e conflictError
	if errors.As(err, &e) {
		return e.active, true
	}
	return 0, false
}

// activationFailureError wraps a failed worker start.
type activationFailureError struct {
	id  string
	err error
}

func (e activationFailureError) Error() string {
	return fmt.Sprintf("activation failed for %s: %v", e.id, e.err)
}

func (e activationFailureError) Unwrap() error { return e.err }

// ErrActivationFailure wraps err as a failed start of worker id.
func ErrActivationFailure(id string, err error) error {
	return activationFailureError{id: id, err: err}
}

// IsActivationFailure reports whether err came from a failed worker start,
// eager or lazy.
func IsActivationFailure(err error) bool {
	var e activationFailureError
	return errors.As(err, &e) || lazy.IsActivationError(err)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ id string }

func (e tooBusyError) Error() string { return "too busy: " + e.id }

// ErrTooBusy returns the backpressure error for worker id.
func ErrTooBusy(id string) error { return tooBusyError{id: id} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e) || errors.Is(err, worker.ErrBusy)
}
