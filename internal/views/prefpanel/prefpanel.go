// Package prefpanel renders the notification preference overlay.
package prefpanel

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cktan21/spm-relay/internal/theme"
)

type Model struct {
	Cursor int
}

func New() Model { return Model{} }

func (m *Model) Up(n int) {
	if n > 0 {
		m.Cursor = (m.Cursor - 1 + n) % n
	}
}

func (m *Model) Down(n int) {
	if n > 0 {
		m.Cursor = (m.Cursor + 1) % n
	}
}

// Selected returns the type under the cursor.
func (m Model) Selected(types []string) (string, bool) {
	if m.Cursor < 0 || m.Cursor >= len(types) {
		return "", false
	}
	return types[m.Cursor], true
}

// View renders one checkbox line per event type.
func (m Model) View(types []string, enabled map[string]bool, width int) string {
	title := theme.StyleHeader.Render(" NOTIFICATION PREFERENCES ")
	help := theme.StyleDimmed.Render("space:toggle  e:enable all  x:disable all  r:reset  esc:close")

	var lines []string
	for i, t := range types {
		box := "[ ]"
		if on, ok := enabled[t]; !ok || on {
			box = "[x]"
		}
		line := box + " " + strings.ReplaceAll(t, "_", " ")
		if i == m.Cursor {
			line = theme.StyleSelected.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, "", strings.Join(lines, "\n"), "", help)
	return theme.PanelStyle(max(width-4, 30)).Render(content)
}
