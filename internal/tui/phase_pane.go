package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/docflow/internal/events"
)

type phaseRow struct {
	name      string
	tasks     int
	succeeded int
	failed    int
	duration  time.Duration
	finished  bool
}

// PhasePaneModel is the run timeline: one row per phase plus the final
// run outcome.
type PhasePaneModel struct {
	idea     string
	rows     []*phaseRow
	outcome  *events.RunFinishedEvent
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewPhasePaneModel creates a phase pane for a run generating idea.
func NewPhasePaneModel(idea string) PhasePaneModel {
	return PhasePaneModel{idea: idea, viewport: viewport.New(0, 0)}
}

// Update handles phase and run events and scroll keys.
func (m PhasePaneModel) Update(msg tea.Msg) (PhasePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.focused {
			m.viewport, cmd = m.viewport.Update(msg)
		}
		return m, cmd

	case events.PhaseStartedEvent:
		m.rows = append(m.rows, &phaseRow{name: msg.Phase, tasks: len(msg.TaskIDs)})

	case events.PhaseCompletedEvent:
		for _, row := range m.rows {
			if row.name == msg.Phase {
				row.succeeded = msg.Succeeded
				row.failed = msg.Failed
				row.duration = msg.Duration
				row.finished = true
			}
		}

	case events.RunFinishedEvent:
		m.outcome = &msg
	}

	m.viewport.SetContent(m.render())
	return m, cmd
}

// Finished reports whether the run has ended.
func (m PhasePaneModel) Finished() bool {
	return m.outcome != nil
}

func (m PhasePaneModel) render() string {
	var b strings.Builder
	if m.idea != "" {
		fmt.Fprintf(&b, "Idea: %s\n\n", m.idea)
	}
	if len(m.rows) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting for the first phase..."))
		b.WriteString("\n")
	}
	for _, row := range m.rows {
		if !row.finished {
			fmt.Fprintf(&b, "%s %s: %d documents\n", StatusIcon(DocRunning), row.name, row.tasks)
			continue
		}
		icon := StatusIcon(DocCompleted)
		if row.failed > 0 {
			icon = StatusIcon(DocFailed)
		}
		fmt.Fprintf(&b, "%s %s: %d succeeded, %d failed in %s\n",
			icon, row.name, row.succeeded, row.failed, row.duration.Round(time.Millisecond))
	}

	if o := m.outcome; o != nil {
		b.WriteString("\n")
		line := fmt.Sprintf("Run %s: %d documents in %s", o.State, o.Documents, o.Duration.Round(time.Millisecond))
		switch {
		case o.Err != nil:
			b.WriteString(StyleStatusFailed.Render(line))
			fmt.Fprintf(&b, "\n%v", o.Err)
		case o.State == "completed":
			b.WriteString(StyleStatusComplete.Render(line))
		default:
			b.WriteString(StyleStatusBelow.Render(line))
		}
		b.WriteString("\n\nPress q to exit.")
	}
	return b.String()
}

// View renders the pane.
func (m PhasePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := StyleTitle.Render("Phases") + "\n" + m.viewport.View()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *PhasePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-3, 3)
	m.viewport.SetContent(m.render())
}

// SetFocused updates the focus state.
func (m *PhasePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
