package supervisor

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is returned by launch and reconcile requests made after
// shutdown has begun.
var ErrShuttingDown = errors.New("supervisor: shutting down")

// LaunchError reports a worker that could not be spawned.
type LaunchError struct {
	Seq int
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch worker %d: %v", e.Seq, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
