// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"
)

// Per-worker resource estimates used to size the limit checks.
const (
	fdsPerWorker   = 8  // three stdio pipes plus interpreter overhead
	fdOverhead     = 64 // supervisor: metrics server, control file, logging
	procOverhead   = 50
	memPerWorkerMB = 50
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes the pool being checked.
type Options struct {
	Instances   int
	Interpreter string
	ScriptPath  string
	WorkerDir   string
	ControlFile string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(opts.Instances))
	add(checkProcessLimit(opts.Instances))
	if opts.Interpreter != "" {
		add(checkInterpreter(opts.Interpreter))
	}
	add(checkScript(opts.ScriptPath, opts.WorkerDir, opts.Interpreter == ""))
	add(checkControlDir(opts.ControlFile))
	add(checkMemory(opts.Instances)) // warning only

	return result
}

// clampLimit converts an rlimit value, capping "unlimited" at MaxInt32.
func clampLimit(v uint64) int {
	if v == unix.RLIM_INFINITY || v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(workers int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	required := workers*fdsPerWorker + fdOverhead
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d workers)", actual, required, workers),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(workers int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NPROC, &limit); err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	required := workers + procOverhead
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkInterpreter verifies the interpreter resolves on PATH.
func checkInterpreter(name string) Check {
	path, err := exec.LookPath(name)
	if err != nil {
		return Check{
			Name:    "interpreter",
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", name, err),
		}
	}
	return Check{
		Name:    "interpreter",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkScript verifies the worker script exists, resolving a relative
// path against the worker directory. A script run without an interpreter
// must also be executable.
func checkScript(script, dir string, direct bool) Check {
	if script == "" {
		return Check{Name: "worker_script", Passed: false, Message: "no worker script configured"}
	}

	path := script
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "worker_script",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", path, err),
		}
	}
	if info.IsDir() {
		return Check{
			Name:    "worker_script",
			Passed:  false,
			Message: fmt.Sprintf("%s is a directory", path),
		}
	}
	if direct && info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "worker_script",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable and no interpreter is set", path),
		}
	}

	return Check{
		Name:    "worker_script",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkControlDir verifies the control file's directory exists. The file
// itself may be absent.
func checkControlDir(controlFile string) Check {
	dir := filepath.Dir(controlFile)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Check{
			Name:    "control_dir",
			Passed:  false,
			Message: fmt.Sprintf("directory %s does not exist", dir),
		}
	}
	return Check{
		Name:    "control_dir",
		Passed:  true,
		Message: fmt.Sprintf("%s (watching %s)", dir, filepath.Base(controlFile)),
	}
}

// checkMemory warns when available memory looks short for the pool.
func checkMemory(workers int) Check {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to read memory: %v", err),
		}
	}

	availableMB := int(vm.Available / 1_000_000)
	recommendedMB := workers * memPerWorkerMB

	return Check{
		Name:     "memory",
		Required: recommendedMB,
		Actual:   availableMB,
		Passed:   true, // Don't fail on this
		Warning:  availableMB < recommendedMB,
		Message:  fmt.Sprintf("%d MB available (recommend %d)", availableMB, recommendedMB),
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "interpreter":
		return "install the interpreter or pass -interpreter with a full path"
	case "worker_script":
		return "pass -script with the worker entry point (and -worker-dir if relative)"
	case "control_dir":
		return "create the directory or pass -control-file with an existing path"
	default:
		return "see documentation"
	}
}
