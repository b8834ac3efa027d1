// Package metrics provides Prometheus metrics for go-worker-swarm.
//
// All metrics live on the Collector's own registry, so several collectors
// (one per test, for example) never share state.
package metrics

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Exit reasons used as the "reason" label.
const (
	ReasonReaped  = "reaped"  // exited on its own
	ReasonStopped = "stopped" // stopped by scale-down or shutdown
)

// lifecycleStates are the values of the "state" label.
var lifecycleStates = []string{"starting", "running", "shutting_down", "stopped"}

// Collector manages all Prometheus metrics for the pool.
type Collector struct {
	registry *prometheus.Registry

	// --- Pool ---
	info           *prometheus.GaugeVec
	desiredWorkers prometheus.Gauge
	activeWorkers  prometheus.Gauge
	lifecycleState *prometheus.GaugeVec
	elapsedSeconds prometheus.Gauge

	// --- Launches & exits ---
	launchesTotal       prometheus.Counter
	launchFailuresTotal prometheus.Counter
	exitsTotal          *prometheus.CounterVec
	uptimeSeconds       prometheus.Histogram
	uptimeP50Seconds    prometheus.Gauge
	uptimeP95Seconds    prometheus.Gauge
	uptimeP99Seconds    prometheus.Gauge

	// --- Control file ---
	controlTicksTotal *prometheus.CounterVec

	// --- Resources ---
	workersRSSBytes   prometheus.Gauge
	workersCPUPercent prometheus.Gauge
	workersSampled    prometheus.Gauge

	// Summary state
	mu               sync.Mutex
	startTime        time.Time
	initialInstances int
	desired          int
	peakActive       int
	launches         int64
	launchFailures   int64
	directives       int64
	malformed        int64
	exitReasons      map[string]int64
	exitCodes        map[int]int64
	uptimes          *tdigest.TDigest
	uptimeCount      int
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version          string
	Runner           string
	DeviceID         int
	InitialInstances int

	// ProcessMetrics adds the Go runtime and process collectors.
	ProcessMetrics bool
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg CollectorConfig) *Collector {
	c := &Collector{
		registry:         prometheus.NewRegistry(),
		startTime:        time.Now(),
		initialInstances: cfg.InitialInstances,
		desired:          cfg.InitialInstances,
		exitReasons:      make(map[string]int64),
		exitCodes:        make(map[int]int64),
		uptimes:          tdigest.NewWithCompression(100),
	}

	c.info = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_swarm_info",
			Help: "Information about the supervisor (value always 1)",
		},
		[]string{"version", "runner", "device"},
	)
	c.desiredWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_desired_workers",
		Help: "Desired worker count from the last accepted directive",
	})
	c.activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_active_workers",
		Help: "Workers currently registered",
	})
	c.lifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_swarm_lifecycle_state",
			Help: "Supervisor lifecycle state (1 for the current state)",
		},
		[]string{"state"},
	)
	c.elapsedSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_elapsed_seconds",
		Help: "Seconds since the supervisor started",
	})

	c.launchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_swarm_launches_total",
		Help: "Workers launched successfully",
	})
	c.launchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_swarm_launch_failures_total",
		Help: "Worker launches that failed to spawn",
	})
	c.exitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_swarm_worker_exits_total",
			Help: "Worker exits by reason and exit category",
		},
		[]string{"reason", "category"},
	)
	c.uptimeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_swarm_worker_uptime_seconds",
		Help:    "Worker lifetime at exit",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 14400, 86400},
	})
	c.uptimeP50Seconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_worker_uptime_p50_seconds",
		Help: "Worker lifetime 50th percentile (median)",
	})
	c.uptimeP95Seconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_worker_uptime_p95_seconds",
		Help: "Worker lifetime 95th percentile",
	})
	c.uptimeP99Seconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_worker_uptime_p99_seconds",
		Help: "Worker lifetime 99th percentile",
	})

	c.controlTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_swarm_control_ticks_total",
			Help: "Control file polls by result (absent, malformed, applied, shutdown)",
		},
		[]string{"result"},
	)

	c.workersRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_workers_rss_bytes",
		Help: "Resident memory of all workers",
	})
	c.workersCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_workers_cpu_percent",
		Help: "CPU usage of all workers since the previous sample (100 = one core)",
	})
	c.workersSampled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_swarm_workers_sampled",
		Help: "Workers included in the last resource sample",
	})

	c.registry.MustRegister(
		// Pool
		c.info,
		c.desiredWorkers,
		c.activeWorkers,
		c.lifecycleState,
		c.elapsedSeconds,

		// Launches & exits
		c.launchesTotal,
		c.launchFailuresTotal,
		c.exitsTotal,
		c.uptimeSeconds,
		c.uptimeP50Seconds,
		c.uptimeP95Seconds,
		c.uptimeP99Seconds,

		// Control file
		c.controlTicksTotal,

		// Resources
		c.workersRSSBytes,
		c.workersCPUPercent,
		c.workersSampled,
	)
	if cfg.ProcessMetrics {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// Set initial values
	c.info.WithLabelValues(cfg.Version, cfg.Runner, fmt.Sprint(cfg.DeviceID)).Set(1)
	c.desiredWorkers.Set(float64(cfg.InitialInstances))
	c.SetState(lifecycleStates[0])

	return c
}

// Registry returns the collector's registry for serving.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// WorkerStarted records a successful launch.
func (c *Collector) WorkerStarted() {
	c.launchesTotal.Inc()

	c.mu.Lock()
	c.launches++
	c.mu.Unlock()
}

// LaunchFailed records a launch that could not spawn.
func (c *Collector) LaunchFailed() {
	c.launchFailuresTotal.Inc()

	c.mu.Lock()
	c.launchFailures++
	c.mu.Unlock()
}

// RecordExit records a worker exit.
func (c *Collector) RecordExit(reason string, exitCode int, uptime time.Duration) {
	c.exitsTotal.WithLabelValues(reason, exitCategory(exitCode)).Inc()
	c.uptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitReasons[reason]++
	c.exitCodes[exitCode]++
	c.uptimes.Add(uptime.Seconds(), 1)
	c.uptimeCount++
	p50, p95, p99 := c.uptimes.Quantile(0.50), c.uptimes.Quantile(0.95), c.uptimes.Quantile(0.99)
	c.mu.Unlock()

	c.uptimeP50Seconds.Set(p50)
	c.uptimeP95Seconds.Set(p95)
	c.uptimeP99Seconds.Set(p99)
}

// exitCategory groups exit codes: 0 is success, >128 a signal death.
func exitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// RecordTick records one control file poll.
func (c *Collector) RecordTick(result string) {
	c.controlTicksTotal.WithLabelValues(result).Inc()

	c.mu.Lock()
	switch result {
	case "applied", "shutdown":
		c.directives++
	case "malformed":
		c.malformed++
	}
	c.mu.Unlock()
}

// SetDesired updates the desired worker count.
func (c *Collector) SetDesired(n int) {
	c.desiredWorkers.Set(float64(n))

	c.mu.Lock()
	c.desired = n
	c.mu.Unlock()
}

// SetActive updates the registered worker count and tracks the peak.
func (c *Collector) SetActive(n int) {
	c.activeWorkers.Set(float64(n))
	c.elapsedSeconds.Set(time.Since(c.startTime).Seconds())

	c.mu.Lock()
	if n > c.peakActive {
		c.peakActive = n
	}
	c.mu.Unlock()
}

// SetState marks state as the current lifecycle state.
func (c *Collector) SetState(state string) {
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.lifecycleState.WithLabelValues(s).Set(v)
	}
}

// SetResources publishes a resource sample.
func (c *Collector) SetResources(u ResourceUsage) {
	c.workersRSSBytes.Set(float64(u.RSSBytes))
	c.workersCPUPercent.Set(u.CPUPercent)
	c.workersSampled.Set(float64(u.Processes))
}

// =============================================================================
// Export
// =============================================================================

// Snapshot returns the current value of every gauge and counter, keyed by
// metric name. Labelled series are keyed as name{label="value",...}.
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := seriesKey(mf.GetName(), m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_GAUGE:
				values[key] = m.GetGauge().GetValue()
			case dto.MetricType_COUNTER:
				values[key] = m.GetCounter().GetValue()
			case dto.MetricType_HISTOGRAM:
				values[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
				values[key+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return values, nil
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	key := name + "{"
	for i, lp := range labels {
		if i > 0 {
			key += ","
		}
		key += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
	}
	return key + "}"
}

// WriteText writes every metric in the Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the text format to path, replacing it.
func (c *Collector) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := c.WriteText(f); err != nil {
		f.Close()
		return fmt.Errorf("write metrics file: %w", err)
	}
	return f.Close()
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for the exit summary.
type Summary struct {
	Duration          time.Duration
	InitialInstances  int
	FinalDesired      int
	PeakActiveWorkers int
	Launches          int64
	LaunchFailures    int64
	Directives        int64
	MalformedPolls    int64
	ExitReasons       map[string]int64
	ExitCodes         map[int]int64
	UptimeP50         time.Duration
	UptimeP95         time.Duration
	UptimeP99         time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:          time.Since(c.startTime),
		InitialInstances:  c.initialInstances,
		FinalDesired:      c.desired,
		PeakActiveWorkers: c.peakActive,
		Launches:          c.launches,
		LaunchFailures:    c.launchFailures,
		Directives:        c.directives,
		MalformedPolls:    c.malformed,
		ExitReasons:       make(map[string]int64, len(c.exitReasons)),
		ExitCodes:         make(map[int]int64, len(c.exitCodes)),
	}
	for reason, n := range c.exitReasons {
		s.ExitReasons[reason] = n
	}
	for code, n := range c.exitCodes {
		s.ExitCodes[code] = n
	}

	if c.uptimeCount > 0 {
		s.UptimeP50 = seconds(c.uptimes.Quantile(0.50))
		s.UptimeP95 = seconds(c.uptimes.Quantile(0.95))
		s.UptimeP99 = seconds(c.uptimes.Quantile(0.99))
	}
	return s
}

// PeakActive returns the peak registered worker count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
