// Package ingesterr defines the typed error taxonomy the ingestion core uses
// to decide which failures are locally recoverable and which must escalate
// to the orchestrator.
package ingesterr

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying the taxonomy from the error-handling design.
// Use errors.Is against these, or errors.As against the richer *Error type
// below when the failure carries extra context (column name, chunk size).
var (
	// ErrConnectionLost marks a transient connection fault (server gone
	// away, broken pipe) that the caller should retry against a freshly
	// acquired connection.
	ErrConnectionLost = errors.New("connection lost")

	// ErrWidthExceeded marks a store error where a value was too long for
	// its current column width. Resolved locally by widening the column.
	ErrWidthExceeded = errors.New("column width exceeded")

	// ErrBatchTooLarge marks a store error where the batch itself (not a
	// single value) was too large to execute as one statement.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrMalformedRecord marks a record that failed to parse or lacked a
	// usable cig. Logged and skipped, never fatal to the file.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrSchemaConflict marks a duplicate-column race during concurrent
	// schema evolution. Always swallowed by the caller.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrBatchSizeFloor marks that BatchTooLarge recovery hit the sizer's
	// minimum floor and cannot shrink further.
	ErrBatchSizeFloor = errors.New("batch size already at floor")
)

// Error wraps a sentinel with the context needed to act on it (the offending
// column for WidthExceeded, the chunk size for BatchTooLarge).
type Error struct {
	Sentinel error
	Column   string
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s: column %q: %s", e.Sentinel, e.Column, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Sentinel, e.Detail)
	}
	return e.Sentinel.Error()
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Sentinel
}

// Is reports whether target matches the wrapped sentinel, so errors.Is(err,
// ErrWidthExceeded) works transparently through *Error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Sentinel, target)
}

// WidthExceeded builds an Error for a data-too-long condition on column.
func WidthExceeded(column string, cause error) *Error {
	return &Error{Sentinel: ErrWidthExceeded, Column: column, Detail: "value exceeds column width", Cause: cause}
}

// BatchTooLarge builds an Error for a packet-too-large condition.
func BatchTooLarge(detail string, cause error) *Error {
	return &Error{Sentinel: ErrBatchTooLarge, Detail: detail, Cause: cause}
}

// ConnectionLost builds an Error for a transient connection fault.
func ConnectionLost(cause error) *Error {
	return &Error{Sentinel: ErrConnectionLost, Detail: "transient connection fault", Cause: cause}
}

// MalformedRecord builds an Error for a record that could not be routed.
func MalformedRecord(detail string, cause error) *Error {
	return &Error{Sentinel: ErrMalformedRecord, Detail: detail, Cause: cause}
}

// SchemaConflict builds an Error for an alter-table failure other than the
// swallowed duplicate-column race.
func SchemaConflict(cause error) *Error {
	return &Error{Sentinel: ErrSchemaConflict, Detail: "schema alteration failed", Cause: cause}
}

// BatchSizeFloor builds an Error for a BatchTooLarge condition that
// persisted after the sizer already reached its minimum floor.
func BatchSizeFloor(detail string, cause error) *Error {
	return &Error{Sentinel: ErrBatchSizeFloor, Detail: detail, Cause: cause}
}
