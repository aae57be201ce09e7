package app

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cktan21/spm-relay/internal/client"
	"github.com/cktan21/spm-relay/internal/prefs"
	"github.com/cktan21/spm-relay/internal/theme"
	"github.com/cktan21/spm-relay/internal/views/feed"
	"github.com/cktan21/spm-relay/internal/views/prefpanel"
	"github.com/cktan21/spm-relay/internal/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayPrefs
	OverlayLogin
)

// Model is the root Bubble Tea model.
type Model struct {
	manager *client.Manager
	prefs   *prefs.Preferences
	bridge  *Bridge
	quit    func()

	keys   KeyMap
	help   help.Model
	width  int
	height int

	overlay Overlay
	input   textinput.Model
	flash   string

	statusBar status.Model
	feed      feed.Model
	panel     prefpanel.Model
}

// New creates the root model. quit is called when the user exits.
func New(manager *client.Manager, p *prefs.Preferences, bridge *Bridge, quit func()) Model {
	in := textinput.New()
	in.Placeholder = "user id"
	in.CharLimit = 128

	sb := status.New()
	if manager != nil {
		sb.UserID = manager.Identity()
		sb.State = manager.State().String()
	}
	return Model{
		manager:   manager,
		prefs:     p,
		bridge:    bridge,
		quit:      quit,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		input:     in,
		statusBar: sb,
		feed:      feed.New(),
		panel:     prefpanel.New(),
	}
}

// Init waits for the first bridged message.
func (m Model) Init() tea.Cmd {
	return m.bridge.Wait()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case NotificationMsg:
		m.statusBar.Shown++
		if m.manager != nil {
			m.statusBar.Received = int(m.manager.Received())
		}
		var ts time.Time
		if parsed, err := time.Parse(time.RFC3339Nano, msg.Event.Timestamp); err == nil {
			ts = parsed.Local()
		}
		m.feed.Add(feed.Entry{
			Time:        ts,
			EventType:   msg.Event.EventType,
			Title:       msg.Descriptor.Title,
			Description: msg.Descriptor.Description,
			Severity:    string(msg.Descriptor.Severity),
		})
		return m, m.bridge.Wait()

	case StatusMsg:
		m.statusBar.Connected = msg.Connected
		m.statusBar.Transport = msg.Transport
		m.statusBar.LastError = ""
		if msg.Err != nil {
			m.statusBar.LastError = msg.Err.Error()
		}
		m.syncIdentity()
		return m, m.bridge.Wait()
	}

	return m, nil
}

func (m *Model) syncIdentity() {
	if m.manager == nil {
		return
	}
	m.statusBar.UserID = m.manager.Identity()
	m.statusBar.State = m.manager.State().String()
}

func (m *Model) setIdentity(id string) {
	if m.manager == nil {
		return
	}
	m.flash = ""
	if err := m.manager.SetIdentity(id); err != nil {
		m.flash = err.Error()
	}
	m.syncIdentity()
}

func (m *Model) applyPref(fn func() error) {
	m.flash = ""
	if err := fn(); err != nil {
		m.flash = "saving preferences: " + err.Error()
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.overlay {
	case OverlayLogin:
		return m.handleLoginKey(msg)
	case OverlayPrefs:
		return m.handlePrefsKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.quit != nil {
			m.quit()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.feed.ScrollUp(1)

	case key.Matches(msg, m.keys.Down):
		m.feed.ScrollDown(1)

	case key.Matches(msg, m.keys.Prefs):
		m.overlay = OverlayPrefs

	case key.Matches(msg, m.keys.Login):
		m.overlay = OverlayLogin
		m.input.SetValue("")
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Logout):
		m.setIdentity("")
	}
	return m, nil
}

func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.overlay = OverlayNone
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		id := strings.TrimSpace(m.input.Value())
		m.overlay = OverlayNone
		m.input.Blur()
		if id != "" {
			m.setIdentity(id)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handlePrefsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	types := m.prefs.Types()

	switch {
	case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Prefs):
		m.overlay = OverlayNone
	case key.Matches(msg, m.keys.Quit):
		if m.quit != nil {
			m.quit()
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.panel.Up(len(types))
	case key.Matches(msg, m.keys.Down):
		m.panel.Down(len(types))
	case key.Matches(msg, m.keys.Toggle):
		if t, ok := m.panel.Selected(types); ok {
			m.applyPref(func() error { return m.prefs.Toggle(t) })
		}
	case key.Matches(msg, m.keys.EnableAll):
		m.applyPref(m.prefs.EnableAll)
	case key.Matches(msg, m.keys.DisableAll):
		m.applyPref(m.prefs.DisableAll)
	case key.Matches(msg, m.keys.Reset):
		m.applyPref(m.prefs.Reset)
	}
	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := m.feed.View(m.width, m.height-6)
	switch m.overlay {
	case OverlayPrefs:
		body = m.panel.View(m.prefs.Types(), m.prefs.Snapshot(), m.width)
	case OverlayLogin:
		title := theme.StyleHeader.Render(" SIGN IN ")
		hint := theme.StyleDimmed.Render("enter:confirm  esc:cancel")
		body = theme.PanelStyle(max(m.width-4, 30)).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, "", m.input.View(), "", hint))
	}

	sections := []string{m.statusBar.View()}
	if !m.statusBar.Connected {
		sections = append(sections, m.renderDisconnected())
	}
	sections = append(sections, body)
	if m.flash != "" {
		sections = append(sections, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("  "+m.flash))
	}
	sections = append(sections, m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorDanger).
		Bold(true).
		Render("  DISCONNECTED  Reconnecting...")
}
