package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 5 * time.Second

// TickResult is the outcome of one poll.
type TickResult int

const (
	// TickAbsent means the control file did not exist.
	TickAbsent TickResult = iota

	// TickMalformed means the file could not be read or parsed.
	TickMalformed

	// TickApplied means a non-zero directive was handed to the reconciler.
	TickApplied

	// TickShutdown means a zero directive was received.
	TickShutdown
)

// String returns a human-readable name for the result.
func (r TickResult) String() string {
	switch r {
	case TickAbsent:
		return "absent"
	case TickMalformed:
		return "malformed"
	case TickApplied:
		return "applied"
	case TickShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Callbacks receive the watcher's decisions.
type Callbacks struct {
	// OnDirective is called with every non-zero desired count.
	OnDirective func(ctx context.Context, desired int) error

	// OnShutdown is called once when a zero directive is read.
	OnShutdown func()

	// OnTick is called after every poll with its result.
	OnTick func(result TickResult)
}

// Config holds configuration for a Watcher.
type Config struct {
	Path     string
	Interval time.Duration
	Initial  int
	Notify   bool
	Logger   *slog.Logger

	Callbacks Callbacks
}

// Watcher polls the control file on a fixed interval and feeds parsed
// directives to its callbacks.
type Watcher struct {
	path      string
	interval  time.Duration
	notify    bool
	logger    *slog.Logger
	callbacks Callbacks

	desired atomic.Int64
	stopped atomic.Bool
}

// New creates a Watcher. The desired count starts at cfg.Initial.
func New(cfg Config) *Watcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &Watcher{
		path:      cfg.Path,
		interval:  interval,
		notify:    cfg.Notify,
		logger:    logger,
		callbacks: cfg.Callbacks,
	}
	w.desired.Store(int64(cfg.Initial))
	return w
}

// Desired returns the last accepted desired count.
func (w *Watcher) Desired() int {
	return int(w.desired.Load())
}

// Stopped reports whether a shutdown directive ended polling.
func (w *Watcher) Stopped() bool {
	return w.stopped.Load()
}

// Run polls until ctx is cancelled or a shutdown directive is read.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("control_watcher_starting",
		"path", w.path,
		"interval", w.interval.String(),
		"notify", w.notify,
	)

	var changes <-chan struct{}
	if w.notify {
		ch, closeFn, err := w.watchChanges(ctx)
		if err != nil {
			w.logger.Warn("control_notify_unavailable", "path", w.path, "error", err)
		} else {
			defer closeFn()
			changes = ch
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("control_watcher_stopped", "reason", "context_cancelled")
			return nil
		case <-ticker.C:
		case <-changes:
			w.logger.Debug("control_file_changed", "path", w.path)
		}

		if w.Tick(ctx) == TickShutdown {
			w.logger.Info("control_watcher_stopped", "reason", "shutdown_directive")
			return nil
		}
	}
}

// Tick performs a single poll. The registry is never touched here; only
// the OnDirective callback reaches the reconciler.
func (w *Watcher) Tick(ctx context.Context) TickResult {
	result := w.tick(ctx)
	if w.callbacks.OnTick != nil {
		w.callbacks.OnTick(result)
	}
	return result
}

func (w *Watcher) tick(ctx context.Context) TickResult {
	if w.stopped.Load() {
		return TickShutdown
	}

	d, present, err := ReadDirective(w.path)
	if !present {
		w.logger.Debug("control_file_absent", "path", w.path, "desired", w.Desired())
		return TickAbsent
	}
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			w.logger.Error("control_parse_error", "path", w.path, "error", err, "desired", w.Desired())
		} else {
			w.logger.Error("control_read_failed", "path", w.path, "error", err, "desired", w.Desired())
		}
		return TickMalformed
	}

	if d.IsShutdown() {
		if w.stopped.CompareAndSwap(false, true) {
			w.desired.Store(0)
			w.logger.Info("shutdown_directive_received", "path", w.path)
			if w.callbacks.OnShutdown != nil {
				w.callbacks.OnShutdown()
			}
		}
		return TickShutdown
	}

	prev := w.desired.Swap(int64(d.DesiredInstances))
	if prev != int64(d.DesiredInstances) {
		w.logger.Info("directive_changed", "from", prev, "to", d.DesiredInstances)
	}

	if w.callbacks.OnDirective != nil {
		if err := w.callbacks.OnDirective(ctx, d.DesiredInstances); err != nil {
			w.logger.Warn("directive_not_applied", "desired", d.DesiredInstances, "error", err)
		}
	}
	return TickApplied
}

// watchChanges watches the control file's directory, since writers often
// replace the file by rename. The returned channel coalesces bursts.
func (w *Watcher) watchChanges(ctx context.Context) (<-chan struct{}, func(), error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, nil, err
	}

	target := filepath.Clean(w.path)
	changes := make(chan struct{}, 1)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("control_notify_error", "error", err)
			}
		}
	}()

	return changes, func() { fw.Close() }, nil
}
