package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a normal result for Read: the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrDone is returned by Iterator.Next once the results are exhausted.
	ErrDone = errors.New("no more documents")

	// ErrTransient marks a backend error as safe to retry.
	ErrTransient = errors.New("transient store error")

	// ErrInvalidArgument is returned for malformed collection names,
	// document ids or filters. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")
)

// InitError reports that the store could not be reached while the shared
// connection was being set up. Callers are expected to abort startup.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("remote store unavailable at startup: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// OperationError is returned when a Write, Read or Query fails after the
// retry budget is spent, or immediately for permanent faults.
type OperationError struct {
	Op         string
	Collection string
	DocumentID string
	Attempts   int
	Err        error
}

func (e *OperationError) Error() string {
	target := e.Collection
	if e.DocumentID != "" {
		target += "/" + e.DocumentID
	}
	return fmt.Sprintf("store %s %s failed after %d attempt(s): %v", e.Op, target, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
