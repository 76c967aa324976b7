// Package tui renders run progress in the terminal from the event bus.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/docflow/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneDocuments PaneID = iota
	PanePhases
	PaneDAG
	paneCount
)

// busClosedMsg is delivered once the event subscription is closed.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	documentPane DocumentPaneModel
	phasePane    PhasePaneModel
	dagPane      DAGPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	abort        func()
	aborting     bool
	width        int
	height       int
	quitting     bool
}

// New creates a new TUI model subscribed to every event on bus. abort is
// called when the user asks to stop the run, or quits before it finished.
func New(bus *events.EventBus, idea string, abort func()) Model {
	return Model{
		documentPane: NewDocumentPaneModel(),
		phasePane:    NewPhasePaneModel(idea),
		dagPane:      NewDAGPaneModel(),
		focusedPane:  PaneDocuments,
		eventSub:     bus.Subscribe(events.DefaultBufferSize),
		abort:        abort,
	}
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.dagPane.Init())
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			if !m.phasePane.Finished() {
				m.requestAbort()
			}
			m.quitting = true
			return m, tea.Quit

		case KeyAbort:
			m.requestAbort()

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneDocuments
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PanePhases
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneDAG
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneDocuments:
				m.documentPane, cmd = m.documentPane.Update(msg)
			case PanePhases:
				m.phasePane, cmd = m.phasePane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.TaskStartedEvent, events.TaskScoredEvent, events.TaskCompletedEvent, events.TaskFailedEvent:
		var cmd tea.Cmd
		m.documentPane, cmd = m.documentPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.PhaseStartedEvent, events.PhaseCompletedEvent:
		var cmd tea.Cmd
		m.phasePane, cmd = m.phasePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.DAGProgressEvent:
		var cmd tea.Cmd
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RunFinishedEvent:
		m.phasePane, _ = m.phasePane.Update(msg)
		m.dagPane, _ = m.dagPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// Spinner ticks.
		var cmd tea.Cmd
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) requestAbort() {
	if m.aborting {
		return
	}
	m.aborting = true
	if m.abort != nil {
		m.abort()
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	right := lipgloss.JoinVertical(lipgloss.Left, m.phasePane.View(), m.dagPane.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.documentPane.View(), right)

	help := HelpView()
	if m.aborting && !m.phasePane.Finished() {
		help = StyleStatusBelow.Render("Aborting: waiting for running documents to finish...")
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, help)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	rightTopHeight := (availableHeight * 55) / 100

	m.documentPane.SetSize(leftWidth, availableHeight)
	m.phasePane.SetSize(rightWidth, rightTopHeight)
	m.dagPane.SetSize(rightWidth, availableHeight-rightTopHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.documentPane.SetFocused(m.focusedPane == PaneDocuments)
	m.phasePane.SetFocused(m.focusedPane == PanePhases)
	m.dagPane.SetFocused(m.focusedPane == PaneDAG)
}
