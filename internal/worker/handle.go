package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// outputWaitDelay bounds how long Wait keeps copying output after the
// worker exits, in case a grandchild still holds the pipes open.
const outputWaitDelay = 2 * time.Second

// tailLines is the number of recent output lines captured on exit.
const tailLines = 10

// Command is the immutable launch specification shared by every worker.
type Command struct {
	Path string
	Args []string
}

// String returns the command line in a copy-pasteable form.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quoteArg(c.Path))
	for _, arg := range c.Args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$`") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}

// Tail provides the most recent output lines of a worker.
type Tail interface {
	RecentLines(n int) []string
}

// Exit describes a worker that the OS has reported as exited.
type Exit struct {
	Seq      int
	PID      int
	ExitCode int
	Uptime   time.Duration
	Output   []string
}

// Handle wraps one live worker process.
//
// A dedicated goroutine waits on the process so that exit can be polled
// without blocking; Exited and Done observe the result of that wait.
type Handle struct {
	seq       int
	pid       int
	command   Command
	cmd       *exec.Cmd
	tail      Tail
	startTime time.Time

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	endTime  time.Time
	output   []string

	terminations atomic.Int32
}

// Start spawns cmd in its own process group and returns a handle for it.
// seq is the supervisor-assigned launch sequence number. tail may be nil.
func Start(cmd *exec.Cmd, seq int, tail Tail) (*Handle, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// Own process group so termination reaches the worker's children.
	cmd.SysProcAttr.Setpgid = true
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = outputWaitDelay
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		seq:       seq,
		pid:       cmd.Process.Pid,
		command:   Command{Path: cmd.Path, Args: append([]string(nil), cmd.Args[1:]...)},
		cmd:       cmd,
		tail:      tail,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := ExitCode(err)

	var output []string
	if h.tail != nil {
		output = h.tail.RecentLines(tailLines)
	}

	h.mu.Lock()
	h.exitCode = code
	h.endTime = time.Now()
	h.output = output
	h.mu.Unlock()

	close(h.done)
}

// Seq returns the launch sequence number.
func (h *Handle) Seq() int { return h.seq }

// PID returns the OS process id.
func (h *Handle) PID() int { return h.pid }

// Command returns the launch parameters.
func (h *Handle) Command() Command { return h.command }

// StartTime returns when the process was spawned.
func (h *Handle) StartTime() time.Time { return h.startTime }

// Done returns a channel closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited. It never blocks.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// State returns the current state of the worker.
func (h *Handle) State() State {
	if h.Exited() {
		return StateExited
	}
	return StateRunning
}

// ExitCode returns the exit code and true once the process has exited.
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

// Uptime returns how long the process ran, or has been running so far.
func (h *Handle) Uptime() time.Duration {
	if h.Exited() {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.endTime.Sub(h.startTime)
	}
	return time.Since(h.startTime)
}

// Exit returns the exit record. ok is false while the process is running.
func (h *Handle) Exit() (exit Exit, ok bool) {
	if !h.Exited() {
		return Exit{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Exit{
		Seq:      h.seq,
		PID:      h.pid,
		ExitCode: h.exitCode,
		Uptime:   h.endTime.Sub(h.startTime),
		Output:   h.output,
	}, true
}

// Terminations returns how many graceful termination requests were sent.
func (h *Handle) Terminations() int {
	return int(h.terminations.Load())
}

// Signal delivers sig to the worker's process group. Signalling an
// exited worker is a no-op.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.Exited() {
		return nil
	}
	if pgid, err := unix.Getpgid(h.pid); err == nil {
		if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return &TerminationError{PID: h.pid, Op: "signal " + unix.SignalName(sig), Err: err}
		}
		return nil
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return &TerminationError{PID: h.pid, Op: "signal " + unix.SignalName(sig), Err: err}
	}
	return nil
}

// Terminate sends a graceful termination request (SIGTERM).
func (h *Handle) Terminate() error {
	if h.Exited() {
		return nil
	}
	h.terminations.Add(1)
	return h.Signal(unix.SIGTERM)
}

// Kill forcibly terminates the worker's process group (SIGKILL).
func (h *Handle) Kill() error {
	return h.Signal(unix.SIGKILL)
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Exit, error) {
	select {
	case <-h.done:
		exit, _ := h.Exit()
		return exit, nil
	case <-ctx.Done():
		return Exit{}, &TerminationError{PID: h.pid, Op: "wait", Err: ctx.Err()}
	}
}

// Stop terminates the worker and waits for it to exit. See Await for the
// timeout semantics.
func (h *Handle) Stop(timeout time.Duration) (Exit, error) {
	termErr := h.Terminate()
	exit, err := h.Await(timeout)
	if err != nil {
		return exit, err
	}
	return exit, termErr
}

// Await waits for an exit already requested by Terminate. If timeout is
// positive and elapses, the process group is killed and waited for again.
// A zero timeout waits indefinitely.
func (h *Handle) Await(timeout time.Duration) (Exit, error) {
	if timeout <= 0 {
		return h.Wait(context.Background())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		exit, _ := h.Exit()
		return exit, nil
	case <-timer.C:
	}

	if err := h.Kill(); err != nil {
		return Exit{}, err
	}
	exit, _ := h.Wait(context.Background())
	return exit, &TerminationError{
		PID: h.pid,
		Op:  "stop",
		Err: fmt.Errorf("%w after %s", ErrForceKilled, timeout),
	}
}

// ExitCode extracts the exit code from a Wait() error.
// Signal exits are reported as 128 + signal number.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
