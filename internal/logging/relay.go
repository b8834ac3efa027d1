package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per worker.
	MaxBufferedLines = 100
)

// OutputRelay receives a worker's stdout and stderr, keeps the most recent
// lines for the exit report, and optionally relays every line to the log.
type OutputRelay struct {
	seq    int
	logger *slog.Logger
	relay  bool

	// Circular buffer for recent lines
	mu     sync.Mutex
	buffer []string
	bufIdx int
}

// NewOutputRelay creates a relay for the worker with launch sequence seq.
// With relay false, lines are only buffered.
func NewOutputRelay(seq int, logger *slog.Logger, relay bool) *OutputRelay {
	return &OutputRelay{
		seq:    seq,
		logger: logger,
		relay:  relay,
		buffer: make([]string, MaxBufferedLines),
	}
}

// Writer returns an io.Writer for one stream ("stdout" or "stderr").
// Each returned writer must be used by a single goroutine, which is how
// os/exec copies a child's output.
func (r *OutputRelay) Writer(stream string) io.Writer {
	return &lineWriter{relay: r, stream: stream}
}

// HandleLine stores one line and relays it if enabled.
func (r *OutputRelay) HandleLine(stream, line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	r.mu.Lock()
	r.buffer[r.bufIdx] = line
	r.bufIdx = (r.bufIdx + 1) % MaxBufferedLines
	r.mu.Unlock()

	if !r.relay {
		return
	}
	r.logger.Log(context.Background(), classifyLine(stream, line), "worker_output",
		"seq", r.seq,
		"stream", stream,
		"line", line,
	)
}

// classifyLine picks the log level for a relayed line.
func classifyLine(stream, line string) slog.Level {
	if stream != "stderr" {
		return slog.LevelInfo
	}
	lower := strings.ToLower(line)
	for _, pattern := range ErrorPatterns {
		if strings.Contains(lower, pattern) {
			return slog.LevelWarn
		}
	}
	return slog.LevelInfo
}

// ErrorPatterns mark a stderr line as a warning when relayed.
var ErrorPatterns = []string{
	"traceback",
	"error",
	"exception",
	"fatal",
	"killed",
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (r *OutputRelay) RecentLines(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if r.buffer[idx] != "" {
			lines = append(lines, r.buffer[idx])
		}
	}
	return lines
}

// lineWriter splits a byte stream into lines.
type lineWriter struct {
	relay   *OutputRelay
	stream  string
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.pending[:i], "\r")
		w.relay.HandleLine(w.stream, string(line))
		w.pending = w.pending[i+1:]
	}

	// A line with no newline in sight is flushed rather than buffered forever.
	if len(w.pending) > MaxLineLength {
		w.relay.HandleLine(w.stream, string(w.pending))
		w.pending = nil
	}
	return len(p), nil
}
