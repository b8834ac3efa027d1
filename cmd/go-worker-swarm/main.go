// Package main provides the go-worker-swarm CLI entry point.
//
// go-worker-swarm keeps a pool of identical worker subprocesses at the size
// requested by an external control file and shuts the pool down cleanly on
// a zero directive or a termination signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
	"github.com/randomizedcoder/go-worker-swarm/internal/logging"
	"github.com/randomizedcoder/go-worker-swarm/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-worker-swarm
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-worker-swarm %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing configuration: %v\n", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Printf("go-worker-swarm %s\n", version)
		return 0
	}

	// When the TUI is enabled, logs would corrupt the display.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		return 1
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger.Info("check_mode_enabled", "instances", cfg.InitialInstances, "duration", cfg.Duration)
	}

	if cfg.PrintCmd {
		printWorkerCommand(cfg)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"instances", cfg.InitialInstances,
		"script", cfg.WorkerScript,
		"interpreter", cfg.Interpreter,
		"device", cfg.DeviceID,
		"control_file", cfg.ControlFile,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	orch, err := orchestrator.New(cfg, logger, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        go-worker-swarm                            ║")
	fmt.Println("║          Elastic Worker Pool with File-Driven Scaling             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Workers:     %d (device %d)\n", cfg.InitialInstances, cfg.DeviceID)
	fmt.Printf("  Command:     %s\n", orchestrator.NewRunner(cfg).CommandString())
	fmt.Printf("  Control:     %s (every %s)\n", cfg.ControlFile, cfg.ControlInterval)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.StopTimeout > 0 {
		fmt.Printf("  Stop:        SIGTERM, SIGKILL after %s\n", cfg.StopTimeout)
	} else {
		fmt.Println("  Stop:        SIGTERM, wait indefinitely")
	}
	fmt.Println()
	fmt.Println(`Write {"desired_instances": 0} to the control file or press Ctrl+C to stop.`)
	fmt.Println()
}

// printWorkerCommand prints the command that would be run for each worker.
func printWorkerCommand(cfg *config.Config) {
	fmt.Println("# Worker command that would be run for each instance:")
	fmt.Println()
	fmt.Println(orchestrator.NewRunner(cfg).CommandString())
}
