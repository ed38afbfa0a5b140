package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a lookup miss in the store or the registry.
	ErrNotFound = errors.New("not found")

	// ErrTickInProgress is returned by a tick that found another tick
	// still running.
	ErrTickInProgress = errors.New("tick already in progress")
)

// PersistenceError wraps an I/O failure reading or writing a record.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PlatformActionError wraps a failed call to the chat platform. The
// transition it belonged to is left incomplete so the next tick retries.
type PlatformActionError struct {
	Action   string
	RecordID string
	Err      error
}

func (e *PlatformActionError) Error() string {
	return fmt.Sprintf("platform %s for %q: %v", e.Action, e.RecordID, e.Err)
}

func (e *PlatformActionError) Unwrap() error { return e.Err }

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
