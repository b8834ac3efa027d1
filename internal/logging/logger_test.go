package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},      // Default
		{"trace", slog.LevelInfo}, // Unknown level defaults to info
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input); got != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "text", "TEXT", "", "invalid"} {
		for _, verbose := range []bool{false, true} {
			if NewLogger(format, "info", verbose) == nil {
				t.Errorf("NewLogger(%q, verbose=%v) returned nil", format, verbose)
			}
		}
	}
}

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	testCases := []struct {
		format string
		want   string
	}{
		{"json", `"key":"value"`},
		{"JSON", `"key":"value"`},
		{"text", "key=value"},
		{"", "key=value"},
		{"invalid", "key=value"},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter(&buf, tc.format, "info").Info("worker_started", "key", "value")
			output := buf.String()
			if !strings.Contains(output, "worker_started") || !strings.Contains(output, tc.want) {
				t.Errorf("output = %q, want it to contain %q", output, tc.want)
			}
		})
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	testCases := []struct {
		level   string
		logged  []string
		dropped []string
	}{
		{"debug", []string{"debug msg", "info msg", "warn msg", "error msg"}, nil},
		{"info", []string{"info msg", "warn msg", "error msg"}, []string{"debug msg"}},
		{"warn", []string{"warn msg", "error msg"}, []string{"debug msg", "info msg"}},
		{"error", []string{"error msg"}, []string{"debug msg", "info msg", "warn msg"}},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, "text", tc.level)
			logger.Debug("debug msg")
			logger.Info("info msg")
			logger.Warn("warn msg")
			logger.Error("error msg")

			output := buf.String()
			for _, msg := range tc.logged {
				if !strings.Contains(output, msg) {
					t.Errorf("level %s should log %q", tc.level, msg)
				}
			}
			for _, msg := range tc.dropped {
				if strings.Contains(output, msg) {
					t.Errorf("level %s should not log %q", tc.level, msg)
				}
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Discard() should not enable debug")
	}
}

func TestSetDefault(t *testing.T) {
	originalDefault := slog.Default()
	defer slog.SetDefault(originalDefault)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))

	slog.Info("from default logger")
	if !strings.Contains(buf.String(), "from default logger") {
		t.Error("SetDefault did not set the default logger")
	}
}
