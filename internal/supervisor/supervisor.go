// Package supervisor keeps a pool of worker subprocesses at the desired
// size and tears it down on shutdown.
package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-worker-swarm/internal/control"
	"github.com/randomizedcoder/go-worker-swarm/internal/process"
	"github.com/randomizedcoder/go-worker-swarm/internal/registry"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// DefaultHeartbeat is the reap interval used when none is configured.
const DefaultHeartbeat = time.Second

// Callbacks let the caller observe the pool. Any field may be nil.
type Callbacks struct {
	OnLaunch func(h *worker.Handle, err error)

	// OnWorkerExited reports a worker that exited on its own and was reaped.
	OnWorkerExited func(exit worker.Exit)

	// OnWorkerStop reports a worker stopped by scale-down or shutdown.
	OnWorkerStop func(exit worker.Exit)

	OnStateChange func(from, to string)
	OnTick        func(control.TickResult)
	OnHeartbeat   func(active, desired int)
}

// Config holds the supervisor's settings. Runner is required.
type Config struct {
	Runner           process.Runner
	InitialInstances int

	ControlFile     string
	ControlInterval time.Duration
	ControlNotify   bool

	Heartbeat     time.Duration
	StopTimeout   time.Duration
	SignalRouting SignalRouting
	HandleSignals bool

	// Duration stops the pool after this long. Zero runs until shutdown.
	Duration time.Duration

	RampRate   int
	RampJitter time.Duration
	Backoff    *BackoffConfig // nil disables launch backoff
	Seed       int64

	Output OutputFactory
	Logger *slog.Logger

	Callbacks Callbacks
}

// Supervisor wires the registry, launcher, reconciler, reaper, control
// watcher and shutdown coordinator together.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	registry    *registry.Registry
	lifecycle   *Lifecycle
	launcher    *Launcher
	reaper      *Reaper
	reconciler  *Reconciler
	coordinator *ShutdownCoordinator
	watcher     *control.Watcher
	signals     *signalListener

	requests chan ShutdownRequest

	// controlIdle is set while the control file is absent or unreadable,
	// so the heartbeat holds the pool at the retained desired count.
	controlIdle atomic.Bool
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.SignalRouting == "" {
		cfg.SignalRouting = RoutingBroadcast
	}
	cb := cfg.Callbacks

	s := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(),
		requests: make(chan ShutdownRequest, 1),
	}
	s.controlIdle.Store(true)

	s.lifecycle = NewLifecycle(logger, cb.OnStateChange)
	s.launcher = NewLauncher(cfg.Runner, s.lifecycle, cfg.Output, logger)
	s.reaper = NewReaper(s.registry, s.lifecycle, logger, cb.OnWorkerExited)

	var ramp *RampScheduler
	if cfg.RampRate > 0 {
		ramp = NewRampSchedulerWithSeed(cfg.RampRate, cfg.RampJitter, cfg.Seed)
	}
	var backoff *Backoff
	if cfg.Backoff != nil {
		backoff = NewBackoff(cfg.Seed, *cfg.Backoff)
	}

	s.reconciler = NewReconciler(ReconcilerConfig{
		Registry:    s.registry,
		Launcher:    s.launcher,
		Lifecycle:   s.lifecycle,
		Reaper:      s.reaper,
		Ramp:        ramp,
		Backoff:     backoff,
		StopTimeout: cfg.StopTimeout,
		Logger:      logger,
		OnLaunch:    cb.OnLaunch,
		OnStop:      cb.OnWorkerStop,
	})
	s.coordinator = NewShutdownCoordinator(s.registry, s.lifecycle, cfg.StopTimeout, logger, cb.OnWorkerStop)

	s.watcher = control.New(control.Config{
		Path:     cfg.ControlFile,
		Interval: cfg.ControlInterval,
		Initial:  cfg.InitialInstances,
		Notify:   cfg.ControlNotify,
		Logger:   logger,
		Callbacks: control.Callbacks{
			OnDirective: func(ctx context.Context, desired int) error {
				_, err := s.reconciler.Reconcile(ctx, desired)
				return err
			},
			OnShutdown: func() {
				s.requestShutdown(ShutdownRequest{Reason: "shutdown_directive"})
			},
			OnTick: func(result control.TickResult) {
				s.controlIdle.Store(result == control.TickAbsent || result == control.TickMalformed)
				if cb.OnTick != nil {
					cb.OnTick(result)
				}
			},
		},
	})

	s.signals = &signalListener{
		routing:  cfg.SignalRouting,
		registry: s.registry,
		logger:   logger,
		request:  s.requestShutdown,
	}
	return s
}

// Run launches the initial pool, then polls the control file and reaps
// exited workers until a shutdown trigger arrives. It returns once every
// worker has been stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor_starting",
		"runner", s.cfg.Runner.Name(),
		"initial_instances", s.cfg.InitialInstances,
		"control_file", s.cfg.ControlFile,
		"signal_routing", string(s.cfg.SignalRouting),
	)

	if _, err := s.reconciler.Reconcile(ctx, s.cfg.InitialInstances); err != nil && !errors.Is(err, ErrShuttingDown) {
		s.logger.Warn("initial_reconcile_incomplete", "error", err)
	}
	s.lifecycle.MarkRunning()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		s.heartbeat(gctx)
		return nil
	})
	g.Go(func() error {
		return s.watcher.Run(gctx)
	})
	if s.cfg.HandleSignals {
		g.Go(func() error {
			return s.signals.run(gctx)
		})
	}

	var deadline <-chan time.Time
	if s.cfg.Duration > 0 {
		timer := time.NewTimer(s.cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	var reason string
	select {
	case req := <-s.requests:
		reason = req.Reason
	case <-ctx.Done():
		reason = "context_cancelled"
	case <-deadline:
		reason = "duration_elapsed"
	}

	cancel()
	s.coordinator.Shutdown(reason)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// heartbeat reaps exited workers on a fixed interval. While no directive
// is being applied it also refills the pool to the retained desired count.
func (s *Supervisor) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reaper.Sweep()
			if s.controlIdle.Load() {
				s.holdDesired(ctx)
			}
			active := s.registry.Count()
			s.logger.Debug("heartbeat", "active", active, "desired", s.watcher.Desired())
			if s.cfg.Callbacks.OnHeartbeat != nil {
				s.cfg.Callbacks.OnHeartbeat(active, s.watcher.Desired())
			}
		}
	}
}

// holdDesired reconciles to the last accepted desired count.
func (s *Supervisor) holdDesired(ctx context.Context) {
	desired := s.watcher.Desired()
	if desired <= 0 || s.lifecycle.ShuttingDown() {
		return
	}
	if _, err := s.reconciler.Reconcile(ctx, desired); err != nil &&
		!errors.Is(err, ErrShuttingDown) && !errors.Is(err, context.Canceled) {
		s.logger.Warn("retained_reconcile_incomplete", "desired", desired, "error", err)
	}
}

func (s *Supervisor) requestShutdown(req ShutdownRequest) {
	select {
	case s.requests <- req:
	default:
		// A request is already pending.
	}
}

// Reconcile converges the pool to desired immediately.
func (s *Supervisor) Reconcile(ctx context.Context, desired int) (Result, error) {
	return s.reconciler.Reconcile(ctx, desired)
}

// Shutdown stops every worker and blocks until done. It also wakes Run.
func (s *Supervisor) Shutdown(reason string) {
	s.requestShutdown(ShutdownRequest{Reason: reason})
	s.coordinator.Shutdown(reason)
}

// Done is closed once shutdown has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.coordinator.Done()
}

// Registry returns the pool's registry.
func (s *Supervisor) Registry() *registry.Registry {
	return s.registry
}

// State returns the lifecycle state.
func (s *Supervisor) State() string {
	return s.lifecycle.State()
}

// Desired returns the last accepted desired count.
func (s *Supervisor) Desired() int {
	return s.watcher.Desired()
}

// Launched returns the number of launch attempts so far.
func (s *Supervisor) Launched() int {
	return s.launcher.Launched()
}
