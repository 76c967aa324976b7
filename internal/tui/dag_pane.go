package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/docflow/internal/events"
)

// DAGPaneModel shows the task counters of the running phase.
type DAGPaneModel struct {
	phase     string
	total     int
	completed int
	running   int
	failed    int
	pending   int
	done      bool
	spinner   spinner.Model
	width     int
	height    int
	focused   bool
}

// NewDAGPaneModel creates a new DAG pane model.
func NewDAGPaneModel() DAGPaneModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = StyleStatusRunning
	return DAGPaneModel{spinner: s}
}

// Init starts the spinner.
func (m DAGPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the DAG pane.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.DAGProgressEvent:
		m.phase = msg.Phase
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending

	case events.RunFinishedEvent:
		m.done = true
	}

	return m, nil
}

// View renders the DAG pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	heading := "DAG Progress"
	if m.phase != "" {
		heading += " (" + m.phase + ")"
	}
	title := StyleTitle.Render(heading)
	if !m.done && m.running > 0 {
		title += " " + m.spinner.View()
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(StyleTitle.Render(heading))))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(progressBar(m.completed, m.failed, m.running, m.total, min(m.width-12, 40)))
		fmt.Fprintf(&b, "  %d/%d\n", m.completed, m.total)
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func progressBar(completed, failed, running, total, width int) string {
	if width <= 0 || total <= 0 {
		return ""
	}
	completedWidth := (completed * width) / total
	failedWidth := (failed * width) / total
	runningWidth := (running * width) / total
	pendingWidth := width - completedWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	return "[" + bar + "]"
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
