// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes inspected by the stores.
const (
	CodeUniqueViolation      pq.ErrorCode = "23505"
	CodeSerializationFailure pq.ErrorCode = "40001"
	CodeDeadlockDetected     pq.ErrorCode = "40P01"
	CodeTooManyConnections   pq.ErrorCode = "53300"
	CodeAdminShutdown        pq.ErrorCode = "57P01"
	CodeCannotConnectNow     pq.ErrorCode = "57P03"
)

// PgErrorCode returns the SQLSTATE carried by err, or "" if err is not a Postgres error.
func PgErrorCode(err error) pq.ErrorCode {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation checks if the error is a duplicate key violation.
func IsUniqueViolation(err error) bool {
	return PgErrorCode(err) == CodeUniqueViolation
}

// IsTooManyConnections checks if the server refused a new connection
// because max_connections was reached.
func IsTooManyConnections(err error) bool {
	return PgErrorCode(err) == CodeTooManyConnections
}

// IsPgConflictError checks for serialization failures and deadlocks.
// Both typically warrant retrying the whole statement.
func IsPgConflictError(err error) bool {
	switch PgErrorCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	default:
		return false
	}
}

// IsPgUnavailableError checks for errors raised while the server is
// shutting down or starting up.
func IsPgUnavailableError(err error) bool {
	switch PgErrorCode(err) {
	case CodeAdminShutdown, CodeCannotConnectNow, CodeTooManyConnections:
		return true
	default:
		return false
	}
}
