package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/docflow/internal/events"
)

// Document display states.
const (
	DocRunning   = "running"
	DocCompleted = "completed"
	DocBelow     = "below threshold"
	DocFailed    = "failed"
	DocBlocked   = "blocked"
)

const listWidth = 28

// DocumentState is what the pane knows about one document.
type DocumentState struct {
	ID       string
	Name     string
	Phase    string
	Status   string
	Scores   []events.TaskScoredEvent
	Content  string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// DocumentPaneModel lists documents and shows the selected one's content
// or score history.
type DocumentPaneModel struct {
	docs        map[string]*DocumentState
	order       []string
	selectedIdx int
	showScores  bool
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewDocumentPaneModel creates an empty document pane.
func NewDocumentPaneModel() DocumentPaneModel {
	return DocumentPaneModel{
		docs:     make(map[string]*DocumentState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles key presses and task events.
func (m DocumentPaneModel) Update(msg tea.Msg) (DocumentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.refresh()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh()
			}
		case KeyEnter:
			m.showScores = !m.showScores
			m.refresh()
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		doc := m.ensure(msg.ID, msg.Phase)
		doc.Name = msg.Name
		doc.Status = DocRunning
		doc.Started = msg.Timestamp

	case events.TaskScoredEvent:
		doc := m.ensure(msg.ID, msg.Phase)
		doc.Scores = append(doc.Scores, msg)

	case events.TaskCompletedEvent:
		doc := m.ensure(msg.ID, msg.Phase)
		doc.Status = DocCompleted
		if !msg.Passed && len(doc.Scores) > 0 {
			doc.Status = DocBelow
		}
		doc.Content = msg.Content
		doc.Duration = msg.Duration

	case events.TaskFailedEvent:
		doc := m.ensure(msg.ID, msg.Phase)
		doc.Status = DocFailed
		if msg.Blocked {
			doc.Status = DocBlocked
		}
		doc.Err = msg.Err
		doc.Duration = msg.Duration
	}

	if e, ok := msg.(events.Event); ok && e.TaskID() != "" && e.TaskID() == m.selected() {
		m.refresh()
	}
	return m, cmd
}

// ensure returns the state of id, adding it in arrival order.
func (m *DocumentPaneModel) ensure(id, phase string) *DocumentState {
	doc, ok := m.docs[id]
	if !ok {
		doc = &DocumentState{ID: id, Name: id, Phase: phase}
		m.docs[id] = doc
		m.order = append(m.order, id)
		if len(m.order) == 1 {
			m.selectedIdx = 0
		}
	}
	return doc
}

// View renders the list and the viewport inside a border.
func (m DocumentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(m.width-listWidth-4).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m DocumentPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Documents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		doc := m.docs[id]
		name := doc.Name
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(doc.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case DocRunning:
		return StyleStatusRunning.Render("●")
	case DocCompleted:
		return StyleStatusComplete.Render("✓")
	case DocBelow:
		return StyleStatusBelow.Render("~")
	case DocFailed:
		return StyleStatusFailed.Render("✗")
	case DocBlocked:
		return StyleStatusFailed.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m DocumentPaneModel) selected() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the selected document, or nil.
func (m DocumentPaneModel) Selected() *DocumentState {
	return m.docs[m.selected()]
}

func (m *DocumentPaneModel) refresh() {
	doc := m.Selected()
	if doc == nil {
		m.viewport.SetContent("Waiting for documents...")
		return
	}
	if m.showScores {
		m.viewport.SetContent(renderScores(doc))
		m.viewport.GotoTop()
		return
	}
	m.viewport.SetContent(renderDocument(doc))
	m.viewport.GotoTop()
}

func renderDocument(doc *DocumentState) string {
	header := fmt.Sprintf("%s [%s, %s]", doc.Name, doc.Phase, doc.Status)
	switch doc.Status {
	case DocRunning:
		return header + "\n\nGenerating..."
	case DocFailed, DocBlocked:
		return fmt.Sprintf("%s\n\n%v", header, doc.Err)
	}
	return fmt.Sprintf("%s in %s\n\n%s", header, doc.Duration.Round(time.Millisecond), doc.Content)
}

func renderScores(doc *DocumentState) string {
	if len(doc.Scores) == 0 {
		return doc.Name + " is not quality gated."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s quality passes\n\n", doc.Name)
	for _, s := range doc.Scores {
		verdict := StyleStatusFailed.Render("below")
		if s.Passed {
			verdict = StyleStatusComplete.Render("passed")
		}
		fmt.Fprintf(&b, "attempt %d: %.1f / %.1f %s\n", s.Attempt, s.Score, s.Threshold, verdict)
		for _, issue := range s.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}
	return b.String()
}

// SetSize updates the pane dimensions.
func (m *DocumentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-listWidth-4, 10)
	m.viewport.Height = max(h-4, 5)
	m.refresh()
}

// SetFocused updates the focus state.
func (m *DocumentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
