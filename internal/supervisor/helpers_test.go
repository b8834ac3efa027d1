package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Test Helpers
// =============================================================================

// cmdRunner launches a fixed command. Sequence numbers for which fail
// returns true get a command that cannot be spawned.
type cmdRunner struct {
	args []string
	fail func(seq int) bool
}

func (r *cmdRunner) Name() string { return "test-worker" }

func (r *cmdRunner) BuildCommand(ctx context.Context, seq int) (*exec.Cmd, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.fail != nil && r.fail(seq) {
		return exec.Command("/nonexistent/worker-binary"), nil
	}
	return exec.Command(r.args[0], r.args[1:]...), nil
}

func sleepRunner() *cmdRunner {
	return &cmdRunner{args: []string{"sleep", "30"}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSupervisor fills in test defaults and stops the pool on cleanup.
func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	if cfg.Runner == nil {
		cfg.Runner = sleepRunner()
	}
	if cfg.ControlFile == "" {
		cfg.ControlFile = filepath.Join(t.TempDir(), "control.json")
	}
	if cfg.ControlInterval == 0 {
		cfg.ControlInterval = 50 * time.Millisecond
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 20 * time.Millisecond
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	cfg.Logger = discardLogger()

	s := New(cfg)
	t.Cleanup(func() {
		s.Shutdown("test_cleanup")
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}
