package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-worker-swarm/internal/registry"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// Result summarizes one reconcile pass.
type Result struct {
	Desired  int
	Before   int // registered workers after the pre-reconcile reap
	After    int
	Launched int
	Failed   int
	Stopped  int

	// Deferred is set when launch backoff held back a scale-up.
	Deferred bool
}

// Delta returns the change that was requested.
func (r Result) Delta() int {
	return r.Desired - r.Before
}

// ReconcilerConfig holds a Reconciler's collaborators and settings.
type ReconcilerConfig struct {
	Registry    *registry.Registry
	Launcher    *Launcher
	Lifecycle   *Lifecycle
	Reaper      *Reaper
	Ramp        *RampScheduler // nil disables pacing
	Backoff     *Backoff       // nil disables launch backoff
	StopTimeout time.Duration
	Logger      *slog.Logger

	OnLaunch func(h *worker.Handle, err error)
	OnStop   func(exit worker.Exit)
}

// Reconciler converges the registry toward a desired count.
type Reconciler struct {
	mu sync.Mutex

	registry    *registry.Registry
	launcher    *Launcher
	lifecycle   *Lifecycle
	reaper      *Reaper
	ramp        *RampScheduler
	gate        *launchGate
	stopTimeout time.Duration
	logger      *slog.Logger

	onLaunch func(h *worker.Handle, err error)
	onStop   func(exit worker.Exit)
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		registry:    cfg.Registry,
		launcher:    cfg.Launcher,
		lifecycle:   cfg.Lifecycle,
		reaper:      cfg.Reaper,
		ramp:        cfg.Ramp,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
		onLaunch:    cfg.OnLaunch,
		onStop:      cfg.OnStop,
	}
	if cfg.Backoff != nil {
		r.gate = newLaunchGate(cfg.Backoff)
	}
	return r
}

// Reconcile launches or stops workers until the registry holds desired
// members. Calls are serialized. Individual launch and stop failures are
// logged and counted in the Result, not returned.
func (r *Reconciler) Reconcile(ctx context.Context, desired int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle.ShuttingDown() {
		return Result{Desired: desired}, ErrShuttingDown
	}

	if r.reaper != nil {
		r.reaper.Sweep()
	}

	res := Result{Desired: desired, Before: r.registry.Count()}
	delta := desired - res.Before

	var err error
	switch {
	case delta > 0:
		err = r.scaleUp(ctx, delta, &res)
	case delta < 0:
		r.scaleDown(-delta, &res)
	}
	res.After = r.registry.Count()

	if delta == 0 {
		r.logger.Debug("pool_converged", "desired", desired, "active", res.After)
		return res, nil
	}

	r.logger.Info("directive_applied",
		"desired", desired,
		"before", res.Before,
		"after", res.After,
		"launched", res.Launched,
		"failed", res.Failed,
		"stopped", res.Stopped,
		"deferred", res.Deferred,
	)
	return res, err
}

func (r *Reconciler) scaleUp(ctx context.Context, n int, res *Result) error {
	if wait, ok := r.gate.Allow(); !ok {
		res.Deferred = true
		r.logger.Warn("launch_backoff",
			"shortfall", n,
			"retry_in", wait.String(),
		)
		return nil
	}
	if r.ramp != nil && n > 1 {
		r.logger.Debug("ramp_started",
			"launches", n,
			"rate", r.ramp.Rate(),
			"estimated", r.ramp.EstimatedRampDuration(n-1).String(),
		)
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && r.ramp != nil {
			if err := r.ramp.Schedule(ctx, i); err != nil {
				return err
			}
		}

		var started *worker.Handle
		err := r.lifecycle.Admit(func() error {
			h, err := r.launcher.Start(ctx)
			if err != nil {
				return err
			}
			r.registry.Add(h)
			started = h
			return nil
		})
		if errors.Is(err, ErrShuttingDown) {
			return err
		}

		if r.onLaunch != nil {
			r.onLaunch(started, err)
		}

		if err != nil {
			res.Failed++
			delay := r.gate.Failure()
			r.logger.Error("launch_failed", "error", err, "backoff", delay.String())
			continue
		}
		res.Launched++
		r.gate.Success()
	}
	return nil
}

// scaleDown removes the n newest workers, asks each to terminate, then
// waits for every one of them before returning.
func (r *Reconciler) scaleDown(n int, res *Result) {
	victims := make([]*worker.Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := r.registry.RemoveNewest()
		if errors.Is(err, registry.ErrEmptyRegistry) {
			break
		}
		victims = append(victims, h)
	}

	for _, h := range victims {
		if err := h.Terminate(); err != nil {
			r.logger.Error("termination_failed", "pid", h.PID(), "error", err)
		}
	}

	for _, h := range victims {
		exit, err := h.Await(r.stopTimeout)
		r.recordStop(h, exit, err, res)
	}
}

// recordStop accounts for one scale-down victim. A force kill still counts
// as a stop; any other Await error leaves the exit unknown, so nothing is
// reported for it.
func (r *Reconciler) recordStop(h *worker.Handle, exit worker.Exit, err error, res *Result) bool {
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrForceKilled):
		r.logger.Warn("worker_force_killed", "seq", h.Seq(), "pid", h.PID(), "error", err)
	default:
		r.logger.Error("worker_stop_failed", "seq", h.Seq(), "pid", h.PID(), "error", err)
		return false
	}
	res.Stopped++
	r.logger.Info("worker_stopped",
		"seq", h.Seq(),
		"pid", h.PID(),
		"exit_code", exit.ExitCode,
		"reason", "scale_down",
	)
	if r.onStop != nil {
		r.onStop(exit)
	}
	return true
}
