package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cktan21/spm-relay/internal/client"
	"github.com/cktan21/spm-relay/internal/event"
	"github.com/cktan21/spm-relay/internal/notification"
)

// NotificationMsg carries a notification that passed the preference filter.
type NotificationMsg struct {
	Descriptor notification.Descriptor
	Event      event.Notification
}

// StatusMsg reports a connection change.
type StatusMsg client.Status

// Bridge moves events from the client goroutines into the Bubble Tea loop.
// It implements client.Presenter and provides the client's OnStatus hook.
type Bridge struct {
	msgs chan tea.Msg
}

func NewBridge(buffer int) *Bridge {
	return &Bridge{msgs: make(chan tea.Msg, buffer)}
}

func (b *Bridge) Present(d notification.Descriptor, n event.Notification) {
	b.msgs <- NotificationMsg{Descriptor: d, Event: n}
}

func (b *Bridge) OnStatus(s client.Status) {
	b.msgs <- StatusMsg(s)
}

// Wait returns a command that delivers the next bridged message.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return <-b.msgs
	}
}
