package supervisor

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-worker-swarm/internal/registry"
)

func writeControl(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write control file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename control file: %v", err)
	}
}

func runAsync(s *Supervisor, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return")
	}
}

// =============================================================================
// Tests: Run
// =============================================================================

func TestRun_InitialPoolThenCancel(t *testing.T) {
	s := newTestSupervisor(t, Config{InitialInstances: 3})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(s, ctx)

	waitFor(t, 5*time.Second, "initial pool", func() bool {
		return s.Registry().Count() == 3 && s.State() == StateRunning
	})
	handles := s.Registry().DrainAll()

	cancel()
	waitRun(t, errCh)

	for _, h := range handles {
		if !h.Exited() {
			t.Errorf("worker %d survived shutdown", h.PID())
		}
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want %q", s.State(), StateStopped)
	}
}

func TestRun_DirectivesThenZeroShutsDown(t *testing.T) {
	s := newTestSupervisor(t, Config{InitialInstances: 1})
	path := s.cfg.ControlFile
	errCh := runAsync(s, context.Background())

	writeControl(t, path, `{"desired_instances": 3}`)
	waitFor(t, 5*time.Second, "scale up to 3", func() bool {
		return s.Registry().Count() == 3
	})
	oldest := s.Registry().PIDs()[0]

	writeControl(t, path, `{"desired_instances": 1}`)
	waitFor(t, 5*time.Second, "scale down to 1", func() bool {
		return s.Registry().Count() == 1
	})
	if got := s.Registry().PIDs()[0]; got != oldest {
		t.Errorf("remaining PID = %d, want the oldest %d", got, oldest)
	}

	writeControl(t, path, `garbage`)
	time.Sleep(150 * time.Millisecond)
	if s.Registry().Count() != 1 || s.Desired() != 1 {
		t.Errorf("malformed directive changed the pool: count %d desired %d",
			s.Registry().Count(), s.Desired())
	}

	writeControl(t, path, `{"desired_instances": 0}`)
	waitRun(t, errCh)

	if s.Registry().Count() != 0 {
		t.Errorf("Count() = %d after shutdown directive, want 0", s.Registry().Count())
	}
}

func TestRun_ReplacesCrashedWorkers(t *testing.T) {
	s := newTestSupervisor(t, Config{
		InitialInstances: 2,
		Runner:           &cmdRunner{args: []string{"sh", "-c", "sleep 0.1; exit 1"}},
	})
	path := s.cfg.ControlFile
	writeControl(t, path, `{"desired_instances": 2}`)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(s, ctx)

	waitFor(t, 5*time.Second, "crashed workers to be replaced", func() bool {
		return s.Launched() >= 4
	})
	cancel()
	waitRun(t, errCh)
}

func TestRun_HoldsDesiredWithoutControlFile(t *testing.T) {
	tests := []struct {
		name   string
		runner *cmdRunner
		cond   func(s *Supervisor) bool
	}{
		{
			name:   "crashed workers replaced",
			runner: &cmdRunner{args: []string{"sh", "-c", "sleep 0.1; exit 1"}},
			cond:   func(s *Supervisor) bool { return s.Launched() > 2 },
		},
		{
			name: "failed spawn retried",
			runner: &cmdRunner{
				args: []string{"sleep", "30"},
				fail: func(seq int) bool { return seq == 1 },
			},
			cond: func(s *Supervisor) bool { return s.Registry().Count() == 2 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor(t, Config{
				InitialInstances: 2,
				Runner:           tt.runner,
			})
			if _, err := os.Stat(s.cfg.ControlFile); !os.IsNotExist(err) {
				t.Fatalf("control file should be absent, stat error = %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			errCh := runAsync(s, ctx)

			waitFor(t, 5*time.Second, "pool to be refilled", func() bool {
				return tt.cond(s)
			})
			if s.Desired() != 2 {
				t.Errorf("Desired() = %d, want 2", s.Desired())
			}
			cancel()
			waitRun(t, errCh)
		})
	}
}

func TestRun_MalformedControlFileKeepsPool(t *testing.T) {
	s := newTestSupervisor(t, Config{
		InitialInstances: 1,
		Runner:           &cmdRunner{args: []string{"sh", "-c", "sleep 0.1; exit 1"}},
	})
	writeControl(t, s.cfg.ControlFile, `{"desired_instances": 2}`)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(s, ctx)

	waitFor(t, 5*time.Second, "directive applied", func() bool {
		return s.Desired() == 2
	})
	writeControl(t, s.cfg.ControlFile, `{"desired_instances": `)
	base := s.Launched()

	waitFor(t, 5*time.Second, "crashed workers replaced", func() bool {
		return s.Launched() >= base+2
	})
	if s.Desired() != 2 {
		t.Errorf("Desired() = %d, want retained 2", s.Desired())
	}
	cancel()
	waitRun(t, errCh)
}

func TestRun_DurationElapses(t *testing.T) {
	s := newTestSupervisor(t, Config{
		InitialInstances: 1,
		Duration:         200 * time.Millisecond,
	})
	start := time.Now()
	waitRun(t, runAsync(s, context.Background()))

	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Run() returned after %v, before the duration", elapsed)
	}
	if s.Registry().Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Registry().Count())
	}
}

func TestRun_ExternalShutdown(t *testing.T) {
	s := newTestSupervisor(t, Config{InitialInstances: 2})
	errCh := runAsync(s, context.Background())

	waitFor(t, 5*time.Second, "initial pool", func() bool {
		return s.State() == StateRunning
	})
	s.Shutdown("operator")
	waitRun(t, errCh)

	if s.State() != StateStopped {
		t.Errorf("State() = %q, want %q", s.State(), StateStopped)
	}
}

// =============================================================================
// Tests: Signals
// =============================================================================

func TestParseSignalRouting(t *testing.T) {
	tests := []struct {
		in      string
		want    SignalRouting
		wantErr bool
	}{
		{"broadcast", RoutingBroadcast, false},
		{"routed", RoutingRouted, false},
		{"", "", true},
		{"unicast", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSignalRouting(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSignalRouting(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSignalListener_Handle(t *testing.T) {
	tests := []struct {
		name         string
		routing      SignalRouting
		sig          os.Signal
		wantShutdown bool
		wantTerm     [2]int
	}{
		{"term shuts down", RoutingBroadcast, syscall.SIGTERM, true, [2]int{0, 0}},
		{"hup shuts down", RoutingRouted, syscall.SIGHUP, true, [2]int{0, 0}},
		{"usr1 broadcast ignored", RoutingBroadcast, syscall.SIGUSR1, false, [2]int{0, 0}},
		{"usr1 routed to first", RoutingRouted, syscall.SIGUSR1, false, [2]int{1, 0}},
		{"usr2 routed to second", RoutingRouted, syscall.SIGUSR2, false, [2]int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor(t, Config{})
			if _, err := s.Reconcile(context.Background(), 2); err != nil {
				t.Fatalf("Reconcile(2) error = %v", err)
			}

			var requests []ShutdownRequest
			l := &signalListener{
				routing:  tt.routing,
				registry: s.Registry(),
				logger:   discardLogger(),
				request:  func(r ShutdownRequest) { requests = append(requests, r) },
			}
			l.handle(tt.sig)

			if got := len(requests) == 1; got != tt.wantShutdown {
				t.Errorf("shutdown requested = %v, want %v", got, tt.wantShutdown)
			}
			for i := 0; i < 2; i++ {
				h, _ := s.Registry().At(i)
				if h.Terminations() != tt.wantTerm[i] {
					t.Errorf("worker %d terminations = %d, want %d", i, h.Terminations(), tt.wantTerm[i])
				}
			}
		})
	}
}

func TestSignalListener_RouteMissingWorker(t *testing.T) {
	l := &signalListener{
		routing:  RoutingRouted,
		registry: registry.New(),
		logger:   discardLogger(),
		request:  func(ShutdownRequest) { t.Error("unexpected shutdown request") },
	}
	l.handle(syscall.SIGUSR2)
}
