// Package dashboard renders a live terminal view of an outreachd server:
// campaign counts, SAFE-mode share, fleet throughput and each live
// campaign's guardrail rates.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	rowSparkWidth   = 12
	historySize     = 30
	fetchTimeout    = 5 * time.Second
)

// Model is the bubbletea dashboard model.
type Model struct {
	source     Source
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	fetched    bool
	err        error
	quitting   bool

	// Ring buffers for sparklines.
	throughputHistory []float64
	complaintHistory  []float64
	rowHistory        map[string][]float64

	safeProgress  progress.Model
	guardProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling src every interval. serverURL is
// only displayed.
func NewModel(src Source, serverURL string, interval time.Duration) Model {
	return Model{
		source:            src,
		serverURL:         serverURL,
		interval:          interval,
		throughputHistory: make([]float64, 0, historySize),
		complaintHistory:  make([]float64, 0, historySize),
		rowHistory:        make(map[string][]float64),
		safeProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		guardProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(rowSparkWidth),
			progress.WithoutPercentage(),
		),
	}
}

// Run starts the dashboard and blocks until the user quits or ctx ends.
func Run(ctx context.Context, src Source, serverURL string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(src, serverURL, interval), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// statusBadge summarizes server health and guardrail pressure.
func statusBadge(s Snapshot) string {
	if s.Health != "ok" {
		return errorStyle.Render("✗ DEGRADED")
	}
	for _, row := range s.Campaigns {
		if len(row.Violations) > 0 {
			return warningStyle.Render("⚠ BREACH")
		}
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// guardBadge returns a badge for a guardrail utilization ratio.
func guardBadge(u float64) string {
	if u < 0.7 {
		return healthyStyle.Render("[✓]")
	} else if u < 1 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

func modeStyle(m mode.Mode) lipgloss.Style {
	switch m {
	case mode.Auto:
		return healthyStyle
	case mode.Semi:
		return warningStyle
	default:
		return errorStyle
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline renders a sparkline from historical data.
func createSparkline(data []float64, width, height int) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", width, "no data"))
	}

	spark := sparkline.New(width, height)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg struct{ err error }

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetch(m.source),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(src Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		snap, err := src.Fetch(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.source)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetch(m.source),
		)

	case snapshotMsg:
		snap := Snapshot(msg)

		// Throughput is the touch delta since the previous refresh.
		if m.fetched {
			delta := snap.Totals.TouchesSent - m.snapshot.Totals.TouchesSent
			m.throughputHistory = appendToHistory(m.throughputHistory, float64(max(delta, 0)))
		}
		m.complaintHistory = appendToHistory(m.complaintHistory, snap.Totals.Rates().ComplaintRate)

		rows := make(map[string][]float64, len(snap.Campaigns))
		for _, row := range snap.Campaigns {
			rows[row.ID] = appendToHistory(m.rowHistory[row.ID], Utilization(row.Rates, snap.Thresholds))
		}
		m.rowHistory = rows

		m.snapshot = snap
		m.fetched = true
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" outreachd Dashboard ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach outreachd") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Is the daemon running? Try: outreachctl health --server "+m.serverURL) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	s := m.snapshot
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	content += headerStyle.Render(" outreachd Dashboard ") + "\n"
	content += fmt.Sprintf("%s   %s   %s\n",
		statusBadge(s),
		dimStyle.Render(m.serverURL),
		dimStyle.Render(lastUpdateStr))
	if len(s.Checks) > 0 {
		var checks []string
		for name, state := range s.Checks {
			checks = append(checks, name+"="+state)
		}
		content += dimStyle.Render("  checks: "+strings.Join(checks, " ")) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Campaigns") + "\n"
	content += labelStyle.Render("  Active: ") + valueStyle.Render(fmt.Sprint(s.Counts.Active)) +
		labelStyle.Render("  Paused: ") + valueStyle.Render(fmt.Sprint(s.Counts.Paused)) +
		labelStyle.Render("  Completed: ") + valueStyle.Render(fmt.Sprint(s.Counts.Completed)) +
		labelStyle.Render("  Total: ") + valueStyle.Render(fmt.Sprint(s.Counts.Total)) + "\n"

	live := s.Counts.Total - s.Counts.Completed
	safeShare := 0.0
	if live > 0 {
		safeShare = min(float64(s.Counts.SafeMode)/float64(live), 1)
	}
	content += labelStyle.Render("  SAFE mode: ") +
		m.safeProgress.ViewAs(safeShare) +
		" " + dimStyle.Render(fmt.Sprintf("%d of %d live", s.Counts.SafeMode, live)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Outreach") + "\n"
	var lastDelta float64
	if n := len(m.throughputHistory); n > 0 {
		lastDelta = m.throughputHistory[n-1]
	}
	content += labelStyle.Render("  Throughput: ") +
		valueStyle.Render(FormatThroughput(lastDelta, m.interval)) +
		"   " + createSparkline(m.throughputHistory, sparklineWidth, sparklineHeight) + "\n"

	fleet := s.Totals.Rates()
	content += labelStyle.Render("  Complaints: ") +
		valueStyle.Render(FormatPercentage(fleet.ComplaintRate)) +
		" " + guardBadge(Utilization(fleet.Guardrail(), s.Thresholds)) +
		"   " + createSparkline(m.complaintHistory, sparklineWidth, sparklineHeight) + "\n"
	content += labelStyle.Render("  Sent: ") + valueStyle.Render(FormatCount(s.Totals.TouchesSent)) +
		labelStyle.Render("  Replies: ") + valueStyle.Render(FormatPercentage(fleet.ReplyRate)) +
		labelStyle.Render("  Demos: ") + valueStyle.Render(FormatCount(s.Totals.DemosBooked)) +
		labelStyle.Render("  Deals: ") + valueStyle.Render(FormatCount(s.Totals.DealsClosed)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Guardrails") + "\n"
	content += dimStyle.Render(fmt.Sprintf("  limits: bounce %s  complaint %s  negative %s  opt-out %s",
		FormatPercentage(s.Thresholds.MaxBounceRate),
		FormatPercentage(s.Thresholds.MaxComplaintRate),
		FormatPercentage(s.Thresholds.MaxNegativeReplyRate),
		FormatPercentage(s.Thresholds.MaxOptOutRate))) + "\n"
	if len(s.Campaigns) == 0 {
		content += dimStyle.Render("  no live campaigns") + "\n"
	}
	for _, row := range s.Campaigns {
		u := Utilization(row.Rates, s.Thresholds)
		content += fmt.Sprintf("  %s %s %s %s %s %s %s\n",
			valueStyle.Render(fmt.Sprintf("%-8s", ShortID(row.ID, 8))),
			labelStyle.Render(fmt.Sprintf("%-14s", row.Country+"/"+row.Industry)),
			modeStyle(row.Mode).Render(fmt.Sprintf("%-4s", row.Mode)),
			statusStyle(row.Status).Render(fmt.Sprintf("%-9s", row.Status)),
			dimStyle.Render(fmt.Sprintf("%6s sent", FormatCount(row.TouchesSent))),
			m.guardProgress.ViewAs(min(u, 1)),
			guardBadge(u))
		for _, v := range row.Violations {
			content += errorStyle.Render("      ✗ "+v.String()) + "\n"
		}
		content += "    " + createSparkline(m.rowHistory[row.ID], rowSparkWidth, 1) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Engine") + "\n"
	content += labelStyle.Render("  Policies: ") + valueStyle.Render(fmt.Sprint(s.Policies)) +
		labelStyle.Render("  Q-table cells: ") + valueStyle.Render(fmt.Sprint(s.QCells)) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

func statusStyle(s campaign.Status) lipgloss.Style {
	switch s {
	case campaign.StatusActive:
		return healthyStyle
	case campaign.StatusPaused:
		return warningStyle
	default:
		return dimStyle
	}
}
