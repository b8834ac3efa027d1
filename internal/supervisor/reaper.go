package supervisor

import (
	"log/slog"

	"github.com/randomizedcoder/go-worker-swarm/internal/registry"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// Reaper removes workers that exited on their own. It never launches or
// terminates anything; replacing a crashed worker is left to the next
// reconcile.
type Reaper struct {
	registry  *registry.Registry
	lifecycle *Lifecycle
	logger    *slog.Logger
	onExit    func(exit worker.Exit)
}

// NewReaper creates a reaper. onExit may be nil.
func NewReaper(reg *registry.Registry, lifecycle *Lifecycle, logger *slog.Logger, onExit func(worker.Exit)) *Reaper {
	return &Reaper{
		registry:  reg,
		lifecycle: lifecycle,
		logger:    logger,
		onExit:    onExit,
	}
}

// Sweep removes and reports every exited worker. It is skipped once
// shutdown has begun, since the shutdown coordinator owns the members then.
func (r *Reaper) Sweep() []worker.Exit {
	if r.lifecycle.ShuttingDown() {
		return nil
	}

	exits := r.registry.Reap()
	for _, exit := range exits {
		attrs := []any{
			"seq", exit.Seq,
			"pid", exit.PID,
			"exit_code", exit.ExitCode,
			"uptime", exit.Uptime.String(),
		}
		if exit.ExitCode != 0 && len(exit.Output) > 0 {
			attrs = append(attrs, "recent_output", exit.Output)
		}
		if exit.ExitCode != 0 {
			r.logger.Warn("worker_exited", attrs...)
		} else {
			r.logger.Info("worker_exited", attrs...)
		}

		if r.onExit != nil {
			r.onExit(exit)
		}
	}
	return exits
}
