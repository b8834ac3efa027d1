package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to setting names to form environment variables.
const EnvPrefix = "SWARM"

// legacyEnv maps settings to the unprefixed variable names used by
// existing deployments. The prefixed form is also accepted.
var legacyEnv = map[string]string{
	"device_id":          "DEVICE_ID",
	"initial_instances":  "INITIAL_INSTANCES",
	"worker_script":      "WORKER_SCRIPT",
	"control_file":       "CONTROL_FILE",
	"worker_interpreter": "WORKER_INTERPRETER",
}

// Load applies the config file at path (if any) and then the environment
// on top of cfg. Settings present in neither are left untouched.
func Load(cfg *Config, path string) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	l := loader{v: v}

	// Pool
	l.intVar("initial_instances", &cfg.InitialInstances)
	l.durationVar("duration", &cfg.Duration)
	l.intVar("ramp_rate", &cfg.RampRate)
	l.durationVar("ramp_jitter", &cfg.RampJitter)

	// Worker
	l.stringVar("worker_script", &cfg.WorkerScript)
	l.stringVar("worker_interpreter", &cfg.Interpreter)
	l.intVar("device_id", &cfg.DeviceID)
	if v.IsSet("worker_args") {
		cfg.WorkerArgs = v.GetStringSlice("worker_args")
	}
	l.stringVar("worker_dir", &cfg.WorkerDir)
	l.stringVar("worker_output", &cfg.WorkerOutput)

	// Control file
	l.stringVar("control_file", &cfg.ControlFile)
	l.durationVar("control_interval", &cfg.ControlInterval)
	l.boolVar("control_notify", &cfg.ControlNotify)

	// Lifecycle
	l.durationVar("heartbeat", &cfg.Heartbeat)
	l.durationVar("stop_timeout", &cfg.StopTimeout)
	l.stringVar("signal_routing", &cfg.SignalRouting)

	// Restart policy
	l.boolVar("launch_backoff", &cfg.LaunchBackoff)
	l.durationVar("backoff_initial", &cfg.BackoffInitial)
	l.durationVar("backoff_max", &cfg.BackoffMax)
	l.floatVar("backoff_multiply", &cfg.BackoffMultiply)

	// Observability
	l.stringVar("metrics_addr", &cfg.MetricsAddr)
	l.stringVar("metrics_file", &cfg.MetricsFile)
	l.durationVar("resource_interval", &cfg.ResourceInterval)
	l.boolVar("verbose", &cfg.Verbose)
	l.stringVar("log_format", &cfg.LogFormat)
	l.stringVar("log_level", &cfg.LogLevel)
	l.boolVar("tui", &cfg.TUIEnabled)

	// Diagnostics
	l.boolVar("skip_preflight", &cfg.SkipPreflight)

	return l.err()
}

// loader copies set keys into Config fields, collecting conversion errors.
type loader struct {
	v    *viper.Viper
	errs []error
}

func (l *loader) fail(key string, err error) {
	l.errs = append(l.errs, ValidationError{Field: key, Message: err.Error()})
}

func (l *loader) err() error {
	return errors.Join(l.errs...)
}

func (l *loader) stringVar(key string, dst *string) {
	if l.v.IsSet(key) {
		*dst = l.v.GetString(key)
	}
}

func (l *loader) intVar(key string, dst *int) {
	if !l.v.IsSet(key) {
		return
	}
	n, err := cast.ToIntE(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = n
}

func (l *loader) boolVar(key string, dst *bool) {
	if !l.v.IsSet(key) {
		return
	}
	b, err := cast.ToBoolE(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = b
}

func (l *loader) floatVar(key string, dst *float64) {
	if !l.v.IsSet(key) {
		return
	}
	f, err := cast.ToFloat64E(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = f
}

func (l *loader) durationVar(key string, dst *time.Duration) {
	if !l.v.IsSet(key) {
		return
	}
	d, err := cast.ToDurationE(l.v.Get(key))
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = d
}
