// Package process provides abstractions for building worker processes.
package process

import (
	"context"
	"os/exec"
)

// Runner creates executable commands for workers.
// This interface allows the supervisor to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command for the worker with the
	// given launch sequence number. The command should NOT be started yet.
	BuildCommand(ctx context.Context, seq int) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}
