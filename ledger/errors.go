package ledger

import "errors"

// Common ledger errors.
var (
	// ErrNotFound is returned when a task entry does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateID is returned when creating a task whose ID already exists.
	ErrDuplicateID = errors.New("task ID already exists")
	// ErrTerminalStatus is returned when mutating a completed or blocked task.
	ErrTerminalStatus = errors.New("task is in a terminal status")
)
