package preflight

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheck_String(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  []string
	}{
		{
			name:  "passed_with_required",
			check: Check{Name: "c", Required: 100, Actual: 200, Passed: true},
			want:  []string{"✓", "200", "100"},
		},
		{
			name:  "failed_check",
			check: Check{Name: "c", Required: 100, Actual: 50},
			want:  []string{"✗"},
		},
		{
			name:  "warning_check",
			check: Check{Name: "c", Passed: true, Warning: true, Message: "warning message"},
			want:  []string{"⚠", "warning message"},
		},
		{
			name:  "passed_with_message_only",
			check: Check{Name: "c", Passed: true, Message: "all good"},
			want:  []string{"✓", "all good"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.check.String()
			for _, w := range tt.want {
				if !strings.Contains(s, w) {
					t.Errorf("String() = %q, missing %q", s, w)
				}
			}
		})
	}
}

func writeScript(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 1\n"), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func findCheck(t *testing.T, r *Result, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in results", name)
	return Check{}
}

func TestRunAll_Passing(t *testing.T) {
	script := writeScript(t, 0o755)
	result := RunAll(Options{
		Instances:   1,
		Interpreter: "sh",
		ScriptPath:  script,
		ControlFile: filepath.Join(filepath.Dir(script), "control.json"),
	})

	for _, name := range []string{"interpreter", "worker_script", "control_dir"} {
		if c := findCheck(t, result, name); !c.Passed {
			t.Errorf("%s failed: %s", name, c.Message)
		}
	}
	if c := findCheck(t, result, "memory"); !c.Passed {
		t.Errorf("memory check must never fail: %s", c.Message)
	}
}

func TestRunAll_MissingInterpreter(t *testing.T) {
	result := RunAll(Options{
		Instances:   1,
		Interpreter: "/nonexistent/python3",
		ScriptPath:  writeScript(t, 0o644),
		ControlFile: "control.json",
	})

	c := findCheck(t, result, "interpreter")
	if c.Passed {
		t.Error("interpreter check should fail")
	}
	if !strings.Contains(c.Message, "not found") {
		t.Errorf("Message = %q, should mention 'not found'", c.Message)
	}
	if result.Passed {
		t.Error("Result should fail when the interpreter is missing")
	}
}

func TestRunAll_NoInterpreterSkipsCheck(t *testing.T) {
	result := RunAll(Options{Instances: 1, ScriptPath: writeScript(t, 0o755), ControlFile: "control.json"})
	for _, c := range result.Checks {
		if c.Name == "interpreter" {
			t.Error("interpreter check ran with no interpreter configured")
		}
	}
}

func TestCheckScript(t *testing.T) {
	exe := writeScript(t, 0o755)
	plain := writeScript(t, 0o644)

	tests := []struct {
		name   string
		script string
		dir    string
		direct bool
		want   bool
	}{
		{"empty", "", "", false, false},
		{"missing", "/nonexistent/worker.py", "", false, false},
		{"directory", t.TempDir(), "", false, false},
		{"plain with interpreter", plain, "", false, true},
		{"plain run directly", plain, "", true, false},
		{"executable run directly", exe, "", true, true},
		{"relative to worker dir", filepath.Base(exe), filepath.Dir(exe), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := checkScript(tt.script, tt.dir, tt.direct)
			if c.Passed != tt.want {
				t.Errorf("checkScript() Passed = %v, want %v (%s)", c.Passed, tt.want, c.Message)
			}
		})
	}
}

func TestCheckControlDir(t *testing.T) {
	dir := t.TempDir()
	if c := checkControlDir(filepath.Join(dir, "control.json")); !c.Passed {
		t.Errorf("existing dir failed: %s", c.Message)
	}
	if c := checkControlDir(filepath.Join(dir, "missing", "control.json")); c.Passed {
		t.Error("missing dir passed")
	}
}

func TestCheckFileDescriptors(t *testing.T) {
	check := checkFileDescriptors(1)

	if check.Name != "file_descriptors" {
		t.Errorf("Name = %q, want file_descriptors", check.Name)
	}
	if check.Actual <= 0 {
		t.Errorf("Actual should be positive: %d", check.Actual)
	}
	if check.Required != fdsPerWorker+fdOverhead {
		t.Errorf("Required = %d, want %d", check.Required, fdsPerWorker+fdOverhead)
	}
	if check.Passed != (check.Actual >= check.Required) {
		t.Errorf("Passed = %v with actual=%d required=%d", check.Passed, check.Actual, check.Required)
	}
}

func TestCheckFileDescriptors_Scaling(t *testing.T) {
	check1 := checkFileDescriptors(1)
	check100 := checkFileDescriptors(100)
	check1000 := checkFileDescriptors(1000)

	if check100.Required <= check1.Required || check1000.Required <= check100.Required {
		t.Error("Required FDs should increase with more workers")
	}
}

func TestCheckProcessLimit(t *testing.T) {
	check := checkProcessLimit(10)
	if check.Name != "process_limit" {
		t.Errorf("Name = %q", check.Name)
	}
	if !check.Warning && check.Required != 10+procOverhead {
		t.Errorf("Required = %d, want %d", check.Required, 10+procOverhead)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   uint64
		want int
	}{
		{1024, 1024},
		{1 << 40, 1<<31 - 1},
		{^uint64(0), 1<<31 - 1},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSuggestFix(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{"file_descriptors", "ulimit -n"},
		{"process_limit", "ulimit -u"},
		{"interpreter", "-interpreter"},
		{"worker_script", "-script"},
		{"control_dir", "-control-file"},
		{"unknown", "documentation"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fix := suggestFix(tc.name)
			if !strings.Contains(fix, tc.expected) {
				t.Errorf("suggestFix(%q) = %q, should contain %q", tc.name, fix, tc.expected)
			}
		})
	}
}

func TestPrintResults(t *testing.T) {
	result := &Result{
		Checks: []Check{
			{Name: "test1", Passed: true, Message: "ok"},
			{Name: "process_limit", Passed: false, Required: 100, Actual: 50},
		},
		Passed: false,
	}

	var buf bytes.Buffer
	PrintResults(&buf, result)
	out := buf.String()
	if !strings.Contains(out, "Preflight checks:") || !strings.Contains(out, "Fix: ulimit -u") {
		t.Errorf("PrintResults() = %q", out)
	}
}
