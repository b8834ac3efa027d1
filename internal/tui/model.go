package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-worker-swarm/internal/metrics"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries an updated pool status.
type StatusMsg struct {
	Status PoolStatus
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Pool status
// =============================================================================

// WorkerRow is one line of the per-worker table.
type WorkerRow struct {
	Seq    int
	PID    int
	State  string
	Uptime time.Duration
}

// PoolStatus is a point-in-time view of the pool.
type PoolStatus struct {
	State          string // supervisor lifecycle state
	Desired        int
	Active         int
	Launched       int64
	LaunchFailures int64
	Exits          int64
	Workers        []WorkerRow
	Resources      metrics.ResourceUsage
}

// StatusSource provides the pool status on every tick.
type StatusSource interface {
	PoolStatus() PoolStatus
}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	controlFile string
	metricsAddr string
	runner      string

	// Current state
	status       PoolStatus
	hasStatus    bool
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	source StatusSource

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	ControlFile string
	MetricsAddr string
	Runner      string
	Source      StatusSource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		controlFile: cfg.ControlFile,
		metricsAddr: cfg.MetricsAddr,
		runner:      cfg.Runner,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.status = m.source.PoolStatus()
			m.hasStatus = true
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case StatusMsg:
		m.status = msg.Status
		m.hasStatus = true
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the TUI started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Status returns the last received pool status.
func (m Model) Status() PoolStatus {
	return m.status
}

// Convergence returns active/desired, capped at 1. A desired count of
// zero is fully converged once the pool is empty.
func (m Model) Convergence() float64 {
	if m.status.Desired == 0 {
		if m.status.Active == 0 {
			return 1
		}
		return 0
	}
	p := float64(m.status.Active) / float64(m.status.Desired)
	if p > 1 {
		return 1
	}
	return p
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStatus sends a status update to the TUI.
func SendStatus(p *tea.Program, status PoolStatus) {
	if p != nil {
		p.Send(StatusMsg{Status: status})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
