package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-worker-swarm/internal/metrics"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderConvergence(),
	}
	if m.hasStatus {
		sections = append(sections, m.renderLifecycleStats(), m.renderResources())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the per-worker table.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderWorkerTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-worker-swarm │ %s │ Workers: %d/%d │ Elapsed: %s ",
		GetStateLabel(m.status.State),
		m.status.Active,
		m.status.Desired,
		metrics.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Convergence
// =============================================================================

func (m Model) renderConvergence() string {
	progress := m.Convergence()

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	var status string
	switch {
	case m.status.State == "shutting_down" || m.status.State == "stopped":
		status = statusWarning.Render(fmt.Sprintf("Stopping... %d workers left", m.status.Active))
	case m.status.Active == m.status.Desired:
		status = statusOK.Render("✓ Pool converged")
	case m.status.Active > m.status.Desired:
		status = statusInfo.Render(fmt.Sprintf("Scaling down... %d/%d", m.status.Active, m.status.Desired))
	default:
		status = statusInfo.Render(fmt.Sprintf("Scaling up... %d/%d", m.status.Active, m.status.Desired))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Convergence"),
		RenderProgressBar(progress, barWidth),
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Lifecycle
// =============================================================================

func (m Model) renderLifecycleStats() string {
	s := m.status

	rows := []string{
		RenderKeyValue("Launched", metrics.FormatNumber(s.Launched)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Launch failures:"),
			GetCountStyle(s.LaunchFailures).Render(metrics.FormatNumber(s.LaunchFailures)),
		),
		RenderKeyValue("Exits", metrics.FormatNumber(s.Exits)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Worker Lifecycle")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Resources
// =============================================================================

func (m Model) renderResources() string {
	r := m.status.Resources
	if r.SampledAt.IsZero() {
		return boxStyle.Width(m.width - 2).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				sectionHeaderStyle.Render("Resources"),
				dimStyle.Render("waiting for first sample"),
			),
		)
	}

	rows := []string{
		RenderKeyValue("Worker RSS", metrics.FormatBytes(r.RSSBytes)),
		RenderKeyValue("Worker CPU", fmt.Sprintf("%.1f%%", r.CPUPercent)),
		RenderKeyValue("Host memory used", fmt.Sprintf("%.1f%%", r.HostMemoryUsedPercent)),
	}
	if r.HostCPUs > 0 {
		rows = append(rows, RenderKeyValue("Host CPUs", fmt.Sprint(r.HostCPUs)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Resources")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Worker Table (Detailed View)
// =============================================================================

func (m Model) renderWorkerTable() string {
	workers := m.status.Workers
	if len(workers) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No workers running. Press 'd' to toggle."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-6s %-8s %-10s %-10s", "SEQ", "PID", "State", "Uptime"),
	)

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, w := range workers {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more workers", len(workers)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		row := fmt.Sprintf("%-6d %-8d %-10s %-10s",
			w.Seq,
			w.PID,
			w.State,
			metrics.FormatDuration(w.Uptime),
		)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Workers"),
			header,
		}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle details",
		"r: refresh",
	}

	info := "Control: " + m.controlFile
	if m.metricsAddr != "" {
		info += " │ Metrics: " + m.metricsAddr
	}
	if m.runner != "" {
		info = "Runner: " + m.runner + " │ " + info
	}
	maxLen := m.width - 45
	if len(info) > maxLen && maxLen > 10 {
		info = info[:maxLen-3] + "..."
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(info)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
