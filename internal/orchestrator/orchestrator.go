// Package orchestrator assembles the supervisor and its observability
// stack from a resolved configuration.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
	"github.com/randomizedcoder/go-worker-swarm/internal/control"
	"github.com/randomizedcoder/go-worker-swarm/internal/logging"
	"github.com/randomizedcoder/go-worker-swarm/internal/metrics"
	"github.com/randomizedcoder/go-worker-swarm/internal/preflight"
	"github.com/randomizedcoder/go-worker-swarm/internal/process"
	"github.com/randomizedcoder/go-worker-swarm/internal/supervisor"
	"github.com/randomizedcoder/go-worker-swarm/internal/tui"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// Orchestrator coordinates all components for one supervisor run.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	runner        *process.WorkerRunner
	supervisor    *supervisor.Supervisor
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	sampler       *metrics.ResourceSampler

	exits atomic.Int64
}

// New creates an Orchestrator. cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Orchestrator, error) {
	routing, err := supervisor.ParseSignalRouting(cfg.SignalRouting)
	if err != nil {
		return nil, err
	}

	runner := NewRunner(cfg)

	o := &Orchestrator{
		config: cfg,
		logger: logger,
		out:    os.Stdout,
		runner: runner,
		metrics: metrics.NewCollector(metrics.CollectorConfig{
			Version:          version,
			Runner:           runner.Name(),
			DeviceID:         cfg.DeviceID,
			InitialInstances: cfg.InitialInstances,
			ProcessMetrics:   true,
		}),
	}

	var backoff *supervisor.BackoffConfig
	if cfg.LaunchBackoff {
		backoff = &supervisor.BackoffConfig{
			Initial:    cfg.BackoffInitial,
			Max:        cfg.BackoffMax,
			Multiplier: cfg.BackoffMultiply,
			JitterPct:  0.4,
		}
	}

	relay := cfg.WorkerOutput == "relay"
	o.supervisor = supervisor.New(supervisor.Config{
		Runner:           runner,
		InitialInstances: cfg.InitialInstances,
		ControlFile:      cfg.ControlFile,
		ControlInterval:  cfg.ControlInterval,
		ControlNotify:    cfg.ControlNotify,
		Heartbeat:        cfg.Heartbeat,
		StopTimeout:      cfg.StopTimeout,
		SignalRouting:    routing,
		HandleSignals:    true,
		Duration:         cfg.Duration,
		RampRate:         cfg.RampRate,
		RampJitter:       cfg.RampJitter,
		Backoff:          backoff,
		Seed:             time.Now().UnixNano(),
		Output: func(seq int) supervisor.OutputSink {
			return logging.NewOutputRelay(seq, logger, relay)
		},
		Logger: logger,
		Callbacks: supervisor.Callbacks{
			OnLaunch:       o.onLaunch,
			OnWorkerExited: o.onWorkerExited,
			OnWorkerStop:   o.onWorkerStop,
			OnStateChange:  o.onStateChange,
			OnTick:         o.onTick,
			OnHeartbeat:    o.onHeartbeat,
		},
	})

	o.sampler = metrics.NewResourceSampler(
		o.supervisor.Registry().PIDs,
		cfg.ResourceInterval,
		logger,
		o.metrics.SetResources,
	)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.metrics.Registry(), o.ready, logger)
	}
	return o, nil
}

// NewRunner builds the worker runner described by cfg.
func NewRunner(cfg *config.Config) *process.WorkerRunner {
	return process.NewWorkerRunner(&process.WorkerConfig{
		Interpreter: cfg.Interpreter,
		ScriptPath:  cfg.WorkerScript,
		DeviceID:    cfg.DeviceID,
		ExtraArgs:   cfg.WorkerArgs,
		Dir:         cfg.WorkerDir,
	})
}

// Run executes the pool. It blocks until shutdown has completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			Instances:   o.config.InitialInstances,
			Interpreter: o.config.Interpreter,
			ScriptPath:  o.config.WorkerScript,
			WorkerDir:   o.config.WorkerDir,
			ControlFile: o.config.ControlFile,
		})
		if !o.config.TUIEnabled {
			preflight.PrintResults(o.out, result)
		}
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.sampler.Run(ctx)

	var tuiDone chan struct{}
	var program *tea.Program
	if o.config.TUIEnabled {
		program, tuiDone = o.startTUI(ctx)
	}

	runErr := o.supervisor.Run(ctx)

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		shutdownCancel()
	}

	if o.config.MetricsFile != "" {
		if err := o.metrics.WriteFile(o.config.MetricsFile); err != nil {
			o.logger.Error("metrics_file_failed", "path", o.config.MetricsFile, "error", err)
		} else {
			o.logger.Info("metrics_file_written", "path", o.config.MetricsFile)
		}
	}

	fmt.Fprint(o.out, metrics.FormatSummary(o.metrics.GenerateSummary(), o.config.MetricsAddr))
	return runErr
}

// startTUI runs the dashboard until it quits. Quitting the dashboard
// shuts the pool down.
func (o *Orchestrator) startTUI(ctx context.Context) (*tea.Program, chan struct{}) {
	model := tui.New(tui.Config{
		ControlFile: o.config.ControlFile,
		MetricsAddr: o.config.MetricsAddr,
		Runner:      o.runner.Name(),
		Source:      o,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithoutSignalHandler())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil {
			o.logger.Warn("tui_error", "error", err)
		}
		if ctx.Err() == nil {
			o.supervisor.Shutdown("tui_quit")
		}
	}()
	return program, done
}

// PoolStatus implements tui.StatusSource.
func (o *Orchestrator) PoolStatus() tui.PoolStatus {
	s := o.metrics.GenerateSummary()
	handles := o.supervisor.Registry().DrainAll()

	rows := make([]tui.WorkerRow, 0, len(handles))
	for _, h := range handles {
		rows = append(rows, tui.WorkerRow{
			Seq:    h.Seq(),
			PID:    h.PID(),
			State:  h.State().String(),
			Uptime: h.Uptime(),
		})
	}

	return tui.PoolStatus{
		State:          o.supervisor.State(),
		Desired:        o.supervisor.Desired(),
		Active:         len(handles),
		Launched:       s.Launches,
		LaunchFailures: s.LaunchFailures,
		Exits:          o.exits.Load(),
		Workers:        rows,
		Resources:      o.sampler.Last(),
	}
}

func (o *Orchestrator) ready() bool {
	return o.supervisor.State() == supervisor.StateRunning
}

// Callback handlers

func (o *Orchestrator) onLaunch(h *worker.Handle, err error) {
	if err != nil {
		o.metrics.LaunchFailed()
		return
	}
	o.metrics.WorkerStarted()
	o.metrics.SetActive(o.supervisor.Registry().Count())
}

func (o *Orchestrator) onWorkerExited(exit worker.Exit) {
	o.exits.Add(1)
	o.metrics.RecordExit(metrics.ReasonReaped, exit.ExitCode, exit.Uptime)
}

func (o *Orchestrator) onWorkerStop(exit worker.Exit) {
	o.exits.Add(1)
	o.metrics.RecordExit(metrics.ReasonStopped, exit.ExitCode, exit.Uptime)
	o.metrics.SetActive(o.supervisor.Registry().Count())
}

func (o *Orchestrator) onStateChange(from, to string) {
	o.metrics.SetState(to)
}

func (o *Orchestrator) onTick(result control.TickResult) {
	o.metrics.RecordTick(result.String())
	o.metrics.SetDesired(o.supervisor.Desired())
}

func (o *Orchestrator) onHeartbeat(active, desired int) {
	o.metrics.SetActive(active)
	o.metrics.SetDesired(desired)
}

// Supervisor returns the supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
