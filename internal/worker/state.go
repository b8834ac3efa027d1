// Package worker wraps a single live worker subprocess.
package worker

// State represents the lifecycle state of a worker process.
type State int

const (
	// StateRunning indicates the process has been spawned and has not
	// been observed to exit.
	StateRunning State = iota

	// StateExited indicates the OS has reported the process exit.
	StateExited
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is a terminal state (exited).
func (s State) IsTerminal() bool {
	return s == StateExited
}
