// Package feed provides the scrollable list of notifications shown to the
// user, newest at the bottom.
package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cktan21/spm-relay/internal/theme"
)

const maxEntries = 200

// Entry is one presented notification.
type Entry struct {
	Time        time.Time
	EventType   string
	Title       string
	Description string
	Severity    string
}

type Model struct {
	Entries []Entry
	Offset  int // scroll offset from the bottom
}

func New() Model {
	return Model{}
}

// Add appends an entry, caps the buffer and scrolls to the bottom.
func (m *Model) Add(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

// View renders the visible window of entries, two lines each.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max((height-4)/2, 1)

	title := theme.StyleHeader.Render(" NOTIFICATIONS ")
	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Waiting for notifications...")
		return theme.PanelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visible, 0)

	var lines []string
	for _, e := range m.Entries[start:end] {
		color := theme.SeverityColor(e.Severity)
		head := lipgloss.NewStyle().Foreground(color).Bold(true).
			Render(theme.SeverityGlyph(e.Severity) + " " + e.Title)
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
		desc := e.Description
		if len(desc) > innerW-4 && innerW > 8 {
			desc = desc[:innerW-7] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s", ts, head), "    "+desc)
	}

	footer := ""
	if m.Offset > 0 {
		footer = theme.StyleDimmed.Render(fmt.Sprintf("  ↓ %d newer", m.Offset))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, title, "", strings.Join(lines, "\n"), footer)
	return theme.PanelStyle(innerW).Render(content)
}
