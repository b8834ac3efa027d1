package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
	"github.com/randomizedcoder/go-worker-swarm/internal/logging"
	"github.com/randomizedcoder/go-worker-swarm/internal/supervisor"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(script, []byte("exec sleep 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.InitialInstances = 2
	cfg.Interpreter = "sh"
	cfg.WorkerScript = script
	cfg.WorkerOutput = "discard"
	cfg.ControlFile = filepath.Join(dir, "control.json")
	cfg.ControlInterval = 50 * time.Millisecond
	cfg.Heartbeat = 20 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	cfg.MetricsAddr = ""
	cfg.MetricsFile = filepath.Join(dir, "metrics.prom")
	cfg.Duration = 300 * time.Millisecond
	cfg.SkipPreflight = true
	return cfg
}

func TestNew_InvalidRouting(t *testing.T) {
	cfg := testConfig(t)
	cfg.SignalRouting = "multicast"
	if _, err := New(cfg, logging.Discard(), "test"); err == nil {
		t.Error("New() should reject an unknown signal routing")
	}
}

func TestNewRunner(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeviceID = 3
	cfg.WorkerArgs = []string{"--fast"}

	got := NewRunner(cfg).Command().String()
	for _, want := range []string{"sh", cfg.WorkerScript, "--device 3", "--fast"} {
		if !strings.Contains(got, want) {
			t.Errorf("Command() = %q, missing %q", got, want)
		}
	}
}

func TestRun_DurationElapses(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, logging.Discard(), "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var out bytes.Buffer
	o.out = &out

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if o.Supervisor().State() != supervisor.StateStopped {
		t.Errorf("State() = %q, want stopped", o.Supervisor().State())
	}
	if o.Supervisor().Registry().Count() != 0 {
		t.Errorf("Count() = %d after Run", o.Supervisor().Registry().Count())
	}

	s := o.Metrics().GenerateSummary()
	if s.Launches != 2 {
		t.Errorf("Launches = %d, want 2", s.Launches)
	}
	if s.ExitCodes[143] != 2 {
		t.Errorf("ExitCodes = %v, want two SIGTERM exits", s.ExitCodes)
	}

	if !strings.Contains(out.String(), "Exit Summary") {
		t.Error("summary not printed")
	}
	data, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(data), "worker_swarm_launches_total 2") {
		t.Error("metrics file missing launch count")
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipPreflight = false
	cfg.WorkerScript = "/nonexistent/worker.py"

	o, err := New(cfg, logging.Discard(), "test")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	o.out = &out

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail preflight")
	}
	if !strings.Contains(out.String(), "worker_script") {
		t.Errorf("preflight output missing worker_script check:\n%s", out.String())
	}
	if o.Supervisor().Launched() != 0 {
		t.Error("workers launched despite failed preflight")
	}
}

func TestPoolStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 0
	o, err := New(cfg, logging.Discard(), "test")
	if err != nil {
		t.Fatal(err)
	}
	o.out = &bytes.Buffer{}

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for (o.Supervisor().Registry().Count() < 2 || !o.ready()) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	st := o.PoolStatus()
	if st.Active != 2 || len(st.Workers) != 2 {
		t.Fatalf("PoolStatus() active=%d workers=%d, want 2", st.Active, len(st.Workers))
	}
	if st.Desired != 2 || st.Launched != 2 {
		t.Errorf("PoolStatus() desired=%d launched=%d", st.Desired, st.Launched)
	}
	if st.Workers[0].Seq >= st.Workers[1].Seq {
		t.Error("workers not in launch order")
	}
	if !o.ready() {
		t.Error("ready() = false while running")
	}

	o.Supervisor().Shutdown("test")
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after Shutdown")
	}
	if o.ready() {
		t.Error("ready() = true after shutdown")
	}
}
