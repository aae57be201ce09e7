package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/cktan21/spm-relay/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Transport string
	UserID    string
	State     string
	LastError string
	Received  int
	Shown     int
	Width     int
}

func New() Model {
	return Model{State: "disconnected"}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● " + m.Transport)
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	user := "signed out"
	if m.UserID != "" {
		user = fmt.Sprintf("%s (%s)", m.UserID, m.State)
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + user + sep + fmt.Sprintf("%d shown / %d received", m.Shown, m.Received)
	if !m.Connected && m.LastError != "" {
		content += sep + theme.StyleDimmed.Render(m.LastError)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
