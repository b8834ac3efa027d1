package supervisor

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-worker-swarm/internal/registry"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// ShutdownCoordinator stops every registered worker exactly once.
type ShutdownCoordinator struct {
	registry    *registry.Registry
	lifecycle   *Lifecycle
	stopTimeout time.Duration
	logger      *slog.Logger
	onStop      func(exit worker.Exit)

	once sync.Once
	done chan struct{}
}

// NewShutdownCoordinator creates a coordinator. A zero stopTimeout waits
// for each worker indefinitely.
func NewShutdownCoordinator(reg *registry.Registry, lifecycle *Lifecycle, stopTimeout time.Duration, logger *slog.Logger, onStop func(worker.Exit)) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		registry:    reg,
		lifecycle:   lifecycle,
		stopTimeout: stopTimeout,
		logger:      logger,
		onStop:      onStop,
		done:        make(chan struct{}),
	}
}

// Shutdown runs the shutdown procedure. Concurrent and repeated calls are
// safe: the first caller does the work and every caller returns only once
// it has completed.
func (c *ShutdownCoordinator) Shutdown(reason string) {
	c.once.Do(func() {
		defer close(c.done)
		c.run(reason)
	})
	<-c.done
}

// Done is closed when shutdown has completed.
func (c *ShutdownCoordinator) Done() <-chan struct{} {
	return c.done
}

func (c *ShutdownCoordinator) run(reason string) {
	start := time.Now()
	c.lifecycle.BeginShutdown()

	members := c.registry.DrainAll()
	c.logger.Info("shutdown_initiated",
		"reason", reason,
		"workers", len(members),
		"stop_timeout", c.stopTimeout.String(),
	)

	for _, h := range members {
		if err := h.Terminate(); err != nil {
			c.logger.Error("termination_failed", "pid", h.PID(), "error", err)
		}
	}

	var g errgroup.Group
	for _, h := range members {
		h := h
		g.Go(func() error {
			exit, err := h.Await(c.stopTimeout)
			switch {
			case errors.Is(err, worker.ErrForceKilled):
				c.logger.Warn("worker_force_killed", "pid", h.PID(), "error", err)
			case err != nil:
				c.logger.Error("worker_stop_failed", "pid", h.PID(), "error", err)
				return nil
			}
			c.registry.Remove(h)
			c.logger.Info("worker_stopped",
				"seq", h.Seq(),
				"pid", h.PID(),
				"exit_code", exit.ExitCode,
				"reason", "shutdown",
			)
			if c.onStop != nil {
				c.onStop(exit)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.lifecycle.MarkStopped()
	c.logger.Info("shutdown_complete",
		"workers", len(members),
		"remaining", c.registry.Count(),
		"duration", time.Since(start).String(),
	)
}
