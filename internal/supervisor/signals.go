package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/randomizedcoder/go-worker-swarm/internal/registry"
)

// SignalRouting selects how USR1/USR2 are handled.
type SignalRouting string

const (
	// RoutingBroadcast ignores USR1 and USR2. Lifecycle signals reach every
	// worker through the shutdown coordinator.
	RoutingBroadcast SignalRouting = "broadcast"

	// RoutingRouted forwards a graceful termination to a single worker:
	// USR1 to index 0, USR2 to index 1.
	RoutingRouted SignalRouting = "routed"
)

// ParseSignalRouting validates a routing mode name.
func ParseSignalRouting(s string) (SignalRouting, error) {
	switch SignalRouting(s) {
	case RoutingBroadcast, RoutingRouted:
		return SignalRouting(s), nil
	default:
		return "", fmt.Errorf("unknown signal routing %q (want broadcast or routed)", s)
	}
}

// ShutdownRequest is the typed event produced from a shutdown trigger.
type ShutdownRequest struct {
	Reason string
}

// routedIndex maps routed signals to registry indexes.
var routedIndex = map[os.Signal]int{
	syscall.SIGUSR1: 0,
	syscall.SIGUSR2: 1,
}

// signalListener turns OS signals into shutdown requests or routed
// terminations.
type signalListener struct {
	routing  SignalRouting
	registry *registry.Registry
	logger   *slog.Logger
	request  func(ShutdownRequest)
}

// run listens until ctx is cancelled.
func (l *signalListener) run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			l.handle(sig)
		}
	}
}

func (l *signalListener) handle(sig os.Signal) {
	idx, routed := routedIndex[sig]
	if !routed {
		l.logger.Info("signal_received", "signal", sig.String(), "action", "shutdown")
		l.request(ShutdownRequest{Reason: "signal: " + sig.String()})
		return
	}

	if l.routing != RoutingRouted {
		l.logger.Debug("signal_ignored", "signal", sig.String(), "routing", string(l.routing))
		return
	}

	h, ok := l.registry.At(idx)
	if !ok {
		l.logger.Warn("signal_route_missing", "signal", sig.String(), "index", idx)
		return
	}
	l.logger.Info("signal_routed", "signal", sig.String(), "index", idx, "pid", h.PID())
	if err := h.Terminate(); err != nil {
		l.logger.Error("termination_failed", "pid", h.PID(), "error", err)
	}
}
