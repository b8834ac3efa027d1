package worker

import (
	"errors"
	"fmt"
)

// ErrForceKilled indicates a worker ignored graceful termination and was killed.
var ErrForceKilled = errors.New("worker did not exit gracefully, killed")

// TerminationError reports an OS-level failure to signal or wait for a
// specific worker.
type TerminationError struct {
	PID int
	Op  string
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("worker %d: %s: %v", e.PID, e.Op, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}
