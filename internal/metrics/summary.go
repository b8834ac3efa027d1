package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatSummary formats the run summary for display at exit.
// metricsAddr is shown as a footnote when non-empty.
func FormatSummary(s *Summary, metricsAddr string) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                          go-worker-swarm Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	if s == nil {
		b.WriteString("No statistics collected.\n")
		b.WriteString(heavyRule)
		return b.String()
	}

	// Run info
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Duration))
	fmt.Fprintf(&b, "Initial Workers:        %d\n", s.InitialInstances)
	fmt.Fprintf(&b, "Final Desired:          %d\n", s.FinalDesired)
	fmt.Fprintf(&b, "Peak Active Workers:    %d\n\n", s.PeakActiveWorkers)

	b.WriteString(lightRule)
	b.WriteString("                               Worker Lifecycle\n")
	b.WriteString(lightRule + "\n")

	fmt.Fprintf(&b, "  Launches:             %s\n", FormatNumber(s.Launches))
	fmt.Fprintf(&b, "  Launch Failures:      %s\n", FormatNumber(s.LaunchFailures))
	fmt.Fprintf(&b, "  Directives Applied:   %s\n", FormatNumber(s.Directives))
	if s.MalformedPolls > 0 {
		fmt.Fprintf(&b, "  Malformed Polls:      %s\n", FormatNumber(s.MalformedPolls))
	}

	if len(s.ExitReasons) > 0 {
		b.WriteString("\n  Exits by reason:\n")
		for _, reason := range sortedKeys(s.ExitReasons) {
			fmt.Fprintf(&b, "    %-18s %d\n", reason, s.ExitReasons[reason])
		}
	}

	if len(s.ExitCodes) > 0 {
		codes := make([]int, 0, len(s.ExitCodes))
		for code := range s.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		b.WriteString("\n  Exit codes:\n")
		for _, code := range codes {
			fmt.Fprintf(&b, "    %4d %-10s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
	}

	if s.UptimeP50 > 0 || s.UptimeP99 > 0 {
		b.WriteString("\n  Worker uptime:\n")
		fmt.Fprintf(&b, "    P50: %s   P95: %s   P99: %s\n",
			FormatDuration(s.UptimeP50),
			FormatDuration(s.UptimeP95),
			FormatDuration(s.UptimeP99),
		)
	}

	b.WriteString("\n" + heavyRule)
	if metricsAddr != "" {
		fmt.Fprintf(&b, "Metrics: http://%s/metrics\n", metricsAddr)
		b.WriteString(heavyRule)
	}
	return b.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n uint64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
