package store

import (
	"errors"
	"fmt"

	"github.com/ashureev/sv-explore/internal/shared"
)

var (
	// ErrNotConfigured is returned when a store is used without an open pool.
	// It is fatal and never retried.
	ErrNotConfigured = errors.New("store: not configured")

	// ErrPoolExhausted is returned when no connection became available in time.
	// Callers may retry with backoff.
	ErrPoolExhausted = errors.New("store: connection pool exhausted")

	// ErrUniqueViolation is returned when an insert hits an existing key.
	ErrUniqueViolation = errors.New("store: uniqueness violation")

	// ErrConflict is returned when Postgres aborted a statement because of a
	// deadlock or serialization failure. The whole operation may be retried.
	ErrConflict = errors.New("store: write conflict")

	// ErrUnavailable is returned while the server is shutting down or starting up.
	ErrUnavailable = errors.New("store: database unavailable")

	// ErrTransient wraps any other database failure.
	ErrTransient = errors.New("store: transient error")
)

// IsRetryable reports whether err is worth retrying after a backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnavailable)
}

// classify maps a driver error onto the store error taxonomy, keeping the
// original error in the chain.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrUniqueViolation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrTransient):
		return fmt.Errorf("%s: %w", op, err)
	case shared.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrUniqueViolation, err)
	case shared.IsTooManyConnections(err):
		return fmt.Errorf("%s: %w: %w", op, ErrPoolExhausted, err)
	case shared.IsPgConflictError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case shared.IsPgUnavailableError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
}
