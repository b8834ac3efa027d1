package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
)

// Lifecycle states.
const (
	StateStarting     = "starting"
	StateRunning      = "running"
	StateShuttingDown = "shutting_down"
	StateStopped      = "stopped"
)

const (
	eventStarted  = "started"
	eventShutdown = "shutdown"
	eventStopped  = "stopped"
)

// Lifecycle tracks the supervisor state machine and gates launches against
// shutdown.
//
// Launches run under the gate's read lock; BeginShutdown takes the write
// lock. Once BeginShutdown returns, no launch is in flight and none will
// start, so a registry snapshot taken afterwards is complete.
type Lifecycle struct {
	gate         sync.RWMutex
	shuttingDown atomic.Bool

	mu  sync.Mutex
	fsm *fsm.FSM

	logger       *slog.Logger
	onTransition func(from, to string)
}

// NewLifecycle creates a lifecycle in the starting state. onTransition may
// be nil; it runs inside the transition and must not call State.
func NewLifecycle(logger *slog.Logger, onTransition func(from, to string)) *Lifecycle {
	l := &Lifecycle{
		logger:       logger,
		onTransition: onTransition,
	}
	l.fsm = fsm.NewFSM(
		StateStarting,
		fsm.Events{
			{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: eventShutdown, Src: []string{StateStarting, StateRunning}, Dst: StateShuttingDown},
			{Name: eventStopped, Src: []string{StateShuttingDown}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Info("lifecycle_transition", "from", e.Src, "to", e.Dst, "event", e.Event)
				if l.onTransition != nil {
					l.onTransition(e.Src, e.Dst)
				}
			},
		},
	)
	return l
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fsm.Current()
}

// ShuttingDown reports whether shutdown has begun. It never blocks.
func (l *Lifecycle) ShuttingDown() bool {
	return l.shuttingDown.Load()
}

// Admit runs fn unless shutdown has begun, in which case it returns
// ErrShuttingDown. BeginShutdown waits for admitted calls to return.
func (l *Lifecycle) Admit(fn func() error) error {
	l.gate.RLock()
	defer l.gate.RUnlock()

	if l.shuttingDown.Load() {
		return ErrShuttingDown
	}
	return fn()
}

// MarkRunning moves starting to running. It is a no-op in any other state.
func (l *Lifecycle) MarkRunning() {
	l.fire(eventStarted)
}

// BeginShutdown sets the shutdown flag. It reports false if shutdown had
// already begun.
func (l *Lifecycle) BeginShutdown() bool {
	l.gate.Lock()
	defer l.gate.Unlock()

	if !l.shuttingDown.CompareAndSwap(false, true) {
		return false
	}
	l.fire(eventShutdown)
	return true
}

// MarkStopped moves shutting_down to stopped.
func (l *Lifecycle) MarkStopped() {
	l.fire(eventStopped)
}

func (l *Lifecycle) fire(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fsm.Can(event) {
		return
	}
	if err := l.fsm.Event(context.Background(), event); err != nil {
		l.logger.Warn("lifecycle_event_failed", "event", event, "error", err)
	}
}
