package engine

import "errors"

var (
	// ErrNotFound is returned for an id with no managed unit.
	ErrNotFound = errors.New("unknown script")
	// ErrAlreadyRunning is returned when start is issued to a unit that
	// is not stopped or errored.
	ErrAlreadyRunning = errors.New("script already running")
	// ErrNotRunning is returned when stop is issued to a unit with no
	// live process and no pending restart.
	ErrNotRunning = errors.New("script not running")
	// ErrShuttingDown is returned for operations on a unit being torn
	// down.
	ErrShuttingDown = errors.New("unit shutting down")
)
