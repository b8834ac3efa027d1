package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/randomizedcoder/go-worker-swarm/internal/process"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// OutputSink receives one worker's stdout and stderr.
type OutputSink interface {
	worker.Tail
	Writer(stream string) io.Writer
}

// OutputFactory returns the sink for the worker with launch sequence seq.
type OutputFactory func(seq int) OutputSink

// Launcher spawns single workers from a fixed Runner.
type Launcher struct {
	runner    process.Runner
	lifecycle *Lifecycle
	output    OutputFactory
	logger    *slog.Logger

	seq atomic.Int64
}

// NewLauncher creates a launcher. output may be nil, in which case worker
// output is discarded.
func NewLauncher(runner process.Runner, lifecycle *Lifecycle, output OutputFactory, logger *slog.Logger) *Launcher {
	return &Launcher{
		runner:    runner,
		lifecycle: lifecycle,
		output:    output,
		logger:    logger,
	}
}

// Start spawns one worker. It never retries; a spawn failure is returned as
// a *LaunchError. Once shutdown has begun it returns ErrShuttingDown.
//
// The caller owns the returned handle and is expected to add it to the
// registry while still admitted by the lifecycle gate.
func (l *Launcher) Start(ctx context.Context) (*worker.Handle, error) {
	if l.lifecycle.ShuttingDown() {
		return nil, ErrShuttingDown
	}

	seq := int(l.seq.Add(1))
	cmd, err := l.runner.BuildCommand(ctx, seq)
	if err != nil {
		return nil, &LaunchError{Seq: seq, Err: err}
	}

	var tail worker.Tail
	if l.output != nil {
		sink := l.output(seq)
		cmd.Stdout = sink.Writer("stdout")
		cmd.Stderr = sink.Writer("stderr")
		tail = sink
	}

	h, err := worker.Start(cmd, seq, tail)
	if err != nil {
		return nil, &LaunchError{Seq: seq, Err: err}
	}

	l.logger.Info("worker_started",
		"seq", seq,
		"pid", h.PID(),
		"runner", l.runner.Name(),
	)
	l.logger.Debug("worker_command", "seq", seq, "command", h.Command().String())
	return h, nil
}

// Launched returns the number of launch attempts so far.
func (l *Launcher) Launched() int {
	return int(l.seq.Load())
}
