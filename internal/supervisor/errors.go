package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("unit or script not found")
	ErrAlreadyRunning = errors.New("script already running")
	ErrNotRunning     = errors.New("script not running")
	ErrShuttingDown   = errors.New("supervisor shutting down")
	ErrRunning        = errors.New("supervisor already running")
)

// SpawnError reports that the OS refused to start a script's process.
type SpawnError struct {
	UnitPath string
	Script   string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s in %s: %v", e.Script, e.UnitPath, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SignalError reports that a running script could not be signalled.
type SignalError struct {
	UnitPath string
	Script   string
	PID      int
	Err      error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %s in %s (pid %d): %v", e.Script, e.UnitPath, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }
