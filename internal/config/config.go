// Package config provides configuration management for go-worker-swarm.
package config

import "time"

// Config holds all configuration options. It is resolved once at startup
// and never changes afterwards.
type Config struct {
	// Pool
	InitialInstances int           `json:"initial_instances"`
	Duration         time.Duration `json:"duration"` // 0 = until shutdown
	RampRate         int           `json:"ramp_rate"` // 0 = no pacing
	RampJitter       time.Duration `json:"ramp_jitter"`

	// Worker
	WorkerScript string   `json:"worker_script"`
	Interpreter  string   `json:"worker_interpreter"` // empty runs the script directly
	DeviceID     int      `json:"device_id"`
	WorkerArgs   []string `json:"worker_args"`
	WorkerDir    string   `json:"worker_dir"`
	WorkerOutput string   `json:"worker_output"` // relay, discard

	// Control file
	ControlFile     string        `json:"control_file"`
	ControlInterval time.Duration `json:"control_interval"`
	ControlNotify   bool          `json:"control_notify"`

	// Lifecycle
	Heartbeat     time.Duration `json:"heartbeat"`
	StopTimeout   time.Duration `json:"stop_timeout"` // 0 = wait forever
	SignalRouting string        `json:"signal_routing"`

	// Restart policy
	LaunchBackoff   bool          `json:"launch_backoff"`
	BackoffInitial  time.Duration `json:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply"`

	// Observability
	MetricsAddr      string        `json:"metrics_addr"`
	MetricsFile      string        `json:"metrics_file"`
	ResourceInterval time.Duration `json:"resource_interval"`
	Verbose          bool          `json:"verbose"`
	LogFormat        string        `json:"log_format"` // json, text
	LogLevel         string        `json:"log_level"`
	TUIEnabled       bool          `json:"tui"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
	ShowVersion   bool `json:"-"`

	// ConfigFile is the optional YAML file consulted before the environment.
	ConfigFile string `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Pool
		InitialInstances: 1,
		Duration:         0, // Until shutdown
		RampRate:         0,
		RampJitter:       0,

		// Worker
		WorkerScript: "worker.py",
		Interpreter:  "python3",
		DeviceID:     0,
		WorkerOutput: "relay",

		// Control file
		ControlFile:     "control.json",
		ControlInterval: 5 * time.Second,

		// Lifecycle
		Heartbeat:     time.Second,
		StopTimeout:   30 * time.Second,
		SignalRouting: "broadcast",

		// Restart policy
		LaunchBackoff:   true,
		BackoffInitial:  time.Second,
		BackoffMax:      30 * time.Second,
		BackoffMultiply: 1.7,

		// Observability
		MetricsAddr:      "0.0.0.0:17092",
		ResourceInterval: 5 * time.Second,
		LogFormat:        "json",
		LogLevel:         "info",
	}
}
