package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined ValidationErrors.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Pool
	if cfg.InitialInstances < 0 {
		add("initial_instances", "must be >= 0 (got %d)", cfg.InitialInstances)
	}
	if cfg.Duration < 0 {
		add("duration", "must not be negative")
	}
	if cfg.RampRate < 0 {
		add("ramp_rate", "must be >= 0 (got %d)", cfg.RampRate)
	}
	if cfg.RampJitter < 0 {
		add("ramp_jitter", "must not be negative")
	}

	// Worker
	if strings.TrimSpace(cfg.WorkerScript) == "" {
		add("worker_script", "is required")
	}
	if cfg.DeviceID < 0 {
		add("device_id", "must be >= 0 (got %d)", cfg.DeviceID)
	}
	validOutputs := map[string]bool{"relay": true, "discard": true}
	if !validOutputs[cfg.WorkerOutput] {
		add("worker_output", "must be 'relay' or 'discard' (got %q)", cfg.WorkerOutput)
	}

	// Control file
	if strings.TrimSpace(cfg.ControlFile) == "" {
		add("control_file", "is required")
	} else {
		switch ext := strings.ToLower(filepath.Ext(cfg.ControlFile)); ext {
		case "", ".json", ".yaml", ".yml":
		default:
			add("control_file", "unsupported extension %q (want .json, .yaml or .yml)", ext)
		}
	}
	if cfg.ControlInterval <= 0 {
		add("control_interval", "must be positive")
	}

	// Lifecycle
	if cfg.Heartbeat <= 0 {
		add("heartbeat", "must be positive")
	}
	if cfg.StopTimeout < 0 {
		add("stop_timeout", "must not be negative (0 waits forever)")
	}
	validRouting := map[string]bool{"broadcast": true, "routed": true}
	if !validRouting[cfg.SignalRouting] {
		add("signal_routing", "must be 'broadcast' or 'routed' (got %q)", cfg.SignalRouting)
	}

	// Restart policy
	if cfg.LaunchBackoff {
		if cfg.BackoffInitial <= 0 {
			add("backoff_initial", "must be positive")
		}
		if cfg.BackoffMax < cfg.BackoffInitial {
			add("backoff_max", "must be >= backoff_initial")
		}
		if cfg.BackoffMultiply < 1.0 {
			add("backoff_multiply", "must be >= 1.0")
		}
	}

	// Observability
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		add("log_level", "must be one of debug, info, warn, error (got %q)", cfg.LogLevel)
	}
	if cfg.ResourceInterval < 0 {
		add("resource_interval", "must not be negative")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ApplyCheckMode modifies config for --check mode.
func ApplyCheckMode(cfg *Config) {
	cfg.InitialInstances = 1
	cfg.Duration = 10 * time.Second
	cfg.Verbose = true
	cfg.TUIEnabled = false
}
