package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// WorkerConfig holds the static launch parameters shared by every worker.
type WorkerConfig struct {
	// Interpreter runs the script (e.g. "python3"). Empty executes the
	// script directly.
	Interpreter string

	// ScriptPath is the worker entry point.
	ScriptPath string

	// DeviceID is passed to every worker as --device <id>.
	DeviceID int

	// ExtraArgs are appended after the device argument.
	ExtraArgs []string

	// Dir is the working directory. Empty inherits the supervisor's.
	Dir string

	// Env adds KEY=VALUE entries to the inherited environment.
	Env []string
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig(scriptPath string) *WorkerConfig {
	return &WorkerConfig{
		Interpreter: "python3",
		ScriptPath:  scriptPath,
		DeviceID:    0,
	}
}

// WorkerRunner implements Runner for the pool's worker script.
type WorkerRunner struct {
	config *WorkerConfig
}

// NewWorkerRunner creates a new runner with the given configuration.
func NewWorkerRunner(cfg *WorkerConfig) *WorkerRunner {
	return &WorkerRunner{
		config: cfg,
	}
}

// Name returns the script's base name.
func (r *WorkerRunner) Name() string {
	return filepath.Base(r.config.ScriptPath)
}

// BuildCommand creates an exec.Cmd for one worker.
//
// The command is deliberately not bound to ctx: cancelling the supervisor's
// loops must not SIGKILL workers, which are stopped through graceful
// termination instead.
func (r *WorkerRunner) BuildCommand(ctx context.Context, seq int) (*exec.Cmd, error) {
	if r.config.ScriptPath == "" {
		return nil, errors.New("worker script path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec := r.Command()
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = r.config.Dir
	cmd.Env = append(os.Environ(), r.config.Env...)
	cmd.Env = append(cmd.Env, "WORKER_SEQ="+strconv.Itoa(seq))
	return cmd, nil
}

// Command returns the launch specification shared by every worker.
func (r *WorkerRunner) Command() worker.Command {
	args := r.buildArgs()
	if r.config.Interpreter == "" {
		return worker.Command{Path: r.config.ScriptPath, Args: args}
	}
	return worker.Command{
		Path: r.config.Interpreter,
		Args: append([]string{r.config.ScriptPath}, args...),
	}
}

// buildArgs constructs the worker arguments following the script path.
func (r *WorkerRunner) buildArgs() []string {
	args := []string{"--device", strconv.Itoa(r.config.DeviceID)}
	args = append(args, r.config.ExtraArgs...)
	return args
}

// Config returns the worker configuration.
func (r *WorkerRunner) Config() *WorkerConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *WorkerRunner) CommandString() string {
	s := r.Command().String()
	if len(r.config.Env) > 0 {
		s = strings.Join(r.config.Env, " ") + " " + s
	}
	return s
}
