package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// argList is a custom flag type for repeatable -worker-arg flags. The
// first Set replaces any list loaded from the environment or config file.
type argList struct {
	values *[]string
	set    bool
}

func (a *argList) String() string {
	if a == nil || a.values == nil {
		return ""
	}
	return strings.Join(*a.values, " ")
}

func (a *argList) Set(value string) error {
	if !a.set {
		*a.values = nil
		a.set = true
	}
	*a.values = append(*a.values, value)
	return nil
}

// ParseFlags resolves the configuration from os.Args, the environment and
// the optional config file.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs resolves the configuration. Precedence, lowest first: defaults,
// config file (-config), environment, command-line flags. Usage and flag
// errors are written to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	// First pass only finds -config; everything else is re-parsed below.
	pre := DefaultConfig()
	preFS := newFlagSet(pre, io.Discard)
	if err := preFS.Parse(args); err != nil {
		// Re-run on the real output so the user sees the error and usage.
		_ = newFlagSet(DefaultConfig(), output).Parse(args)
		return nil, err
	}

	cfg := DefaultConfig()
	if err := Load(cfg, pre.ConfigFile); err != nil {
		return nil, err
	}

	// Registering flags against cfg makes the loaded values the defaults,
	// so only flags present on the command line override them.
	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigFile = pre.ConfigFile

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, nil
}

func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("go-worker-swarm", flag.ContinueOnError)
	fs.SetOutput(output)
	workerArgs := &argList{values: &cfg.WorkerArgs}

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `go-worker-swarm - dynamic worker-pool supervisor

Usage:
  go-worker-swarm [flags]

Pool Flags:
`)
		// Print flags by category
		printFlagCategory(fs, output, []string{"instances", "duration", "ramp-rate", "ramp-jitter"})

		fmt.Fprintf(output, "\nWorker:\n")
		printFlagCategory(fs, output, []string{"script", "interpreter", "device", "worker-arg", "worker-dir", "worker-output"})

		fmt.Fprintf(output, "\nControl File:\n")
		printFlagCategory(fs, output, []string{"control-file", "control-interval", "control-notify"})

		fmt.Fprintf(output, "\nLifecycle:\n")
		printFlagCategory(fs, output, []string{"heartbeat", "stop-timeout", "signal-routing"})

		fmt.Fprintf(output, "\nRestart Policy:\n")
		printFlagCategory(fs, output, []string{"launch-backoff", "backoff-initial", "backoff-max", "backoff-multiply"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "metrics-file", "resource-interval", "v", "log-format", "log-level", "tui"})

		fmt.Fprintf(output, "\nConfiguration & Diagnostics:\n")
		printFlagCategory(fs, output, []string{"config", "print-cmd", "check", "skip-preflight", "version"})

		fmt.Fprintf(output, `
Environment:
  DEVICE_ID, INITIAL_INSTANCES, WORKER_SCRIPT, CONTROL_FILE, WORKER_INTERPRETER,
  and SWARM_<SETTING> for every other setting (e.g. SWARM_STOP_TIMEOUT=10s).
  Flags override the environment, which overrides the -config file.

Control File:
  {"desired_instances": N}   scale the pool to N workers (N >= 1)
  {"desired_instances": 0}   stop every worker and exit

Examples:
  # Two workers on device 1
  go-worker-swarm -instances 2 -device 1 -script ./worker.py

  # Route SIGUSR1/SIGUSR2 to individual workers, force-kill after 10s
  go-worker-swarm -signal-routing routed -stop-timeout 10s

  # Validate setup with one worker for 10 seconds
  go-worker-swarm --check

`)
	}

	// Pool
	fs.IntVar(&cfg.InitialInstances, "instances", cfg.InitialInstances, "Initial number of workers")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run duration (0 = until shutdown)")
	fs.IntVar(&cfg.RampRate, "ramp-rate", cfg.RampRate, "Workers to start per second when scaling up (0 = no pacing)")
	fs.DurationVar(&cfg.RampJitter, "ramp-jitter", cfg.RampJitter, "Random jitter per worker start")

	// Worker
	fs.StringVar(&cfg.WorkerScript, "script", cfg.WorkerScript, "Worker script path")
	fs.StringVar(&cfg.Interpreter, "interpreter", cfg.Interpreter, `Interpreter for the script ("" runs it directly)`)
	fs.IntVar(&cfg.DeviceID, "device", cfg.DeviceID, "Device id passed to every worker as --device")
	fs.Var(workerArgs, "worker-arg", "Extra worker argument (can repeat)")
	fs.StringVar(&cfg.WorkerDir, "worker-dir", cfg.WorkerDir, "Worker working directory")
	fs.StringVar(&cfg.WorkerOutput, "worker-output", cfg.WorkerOutput, `Worker stdout/stderr: "relay" to the log or "discard"`)

	// Control file
	fs.StringVar(&cfg.ControlFile, "control-file", cfg.ControlFile, "Desired-count control file (.json, .yaml)")
	fs.DurationVar(&cfg.ControlInterval, "control-interval", cfg.ControlInterval, "Control file poll interval")
	fs.BoolVar(&cfg.ControlNotify, "control-notify", cfg.ControlNotify, "Also poll immediately when the control file changes")

	// Lifecycle
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Interval for reaping exited workers")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Wait before SIGKILL on stop (0 = wait forever)")
	fs.StringVar(&cfg.SignalRouting, "signal-routing", cfg.SignalRouting, `USR1/USR2 handling: "broadcast" (ignore) or "routed" (stop worker 0/1)`)

	// Restart policy
	fs.BoolVar(&cfg.LaunchBackoff, "launch-backoff", cfg.LaunchBackoff, "Hold off launches after a failed launch")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial launch backoff")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum launch backoff")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Launch backoff multiplier")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" disables)`)
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write final metrics in text format to this file on exit")
	fs.DurationVar(&cfg.ResourceInterval, "resource-interval", cfg.ResourceInterval, "Worker RSS/CPU sampling interval (0 disables)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Configuration & Diagnostics (double-dash convention)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the worker command and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and run 1 worker for 10 seconds")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	return fs
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.Value.(type) {
	case interface{ IsBoolFlag() bool }:
		return ""
	case *argList:
		return "string"
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
