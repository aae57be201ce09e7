// Package client is the receiving side of the relay: it keeps one
// connection open, registers the signed-in user on every (re)connect,
// filters notifications by the user's preferences and hands formatted
// descriptors to a presenter.
package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/event"
	"github.com/cktan21/spm-relay/internal/notification"
	"github.com/cktan21/spm-relay/internal/prefs"
	"github.com/cktan21/spm-relay/internal/ws"
)

var ErrNotConnected = errors.New("not connected")

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	}
	return "disconnected"
}

// Outbox sends a frame on the current connection.
type Outbox interface {
	SendFrame(frame []byte) error
}

// Presenter shows a notification that passed the preference filter.
type Presenter interface {
	Present(d notification.Descriptor, n event.Notification)
}

type PresenterFunc func(d notification.Descriptor, n event.Notification)

func (f PresenterFunc) Present(d notification.Descriptor, n event.Notification) { f(d, n) }

// Manager tracks connection and registration state. The registration memo
// suppresses duplicate register_user messages on one connection and is
// cleared by every connect and disconnect, so each new connection registers
// again.
type Manager struct {
	prefs     *prefs.Preferences
	presenter Presenter
	logger    *zap.Logger

	mu         sync.Mutex
	state      State
	out        Outbox
	identity   string
	registered string
	pending    string
	gen        uint64

	received atomic.Uint64
}

func NewManager(p *prefs.Preferences, presenter Presenter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{prefs: p, presenter: presenter, logger: logger}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Connected records a new connection and registers the known identity on it.
func (m *Manager) Connected(out Outbox) error {
	m.mu.Lock()
	m.state = StateConnected
	m.out = out
	m.gen++
	m.registered = ""
	m.pending = ""
	if m.identity == "" {
		m.mu.Unlock()
		return nil
	}
	reg := m.beginRegisterLocked()
	m.mu.Unlock()
	return m.register(reg)
}

// SetIdentity applies a sign-in (non-empty id) or sign-out (empty id).
// Sign-out sends nothing; the server forgets the session on disconnect.
func (m *Manager) SetIdentity(id string) error {
	m.mu.Lock()
	m.identity = id

	if id == "" {
		m.registered = ""
		m.pending = ""
		if m.state == StateRegistered {
			m.state = StateConnected
		}
		m.mu.Unlock()
		return nil
	}
	if m.state == StateDisconnected || id == m.registered || id == m.pending {
		m.mu.Unlock()
		return nil
	}
	reg := m.beginRegisterLocked()
	m.mu.Unlock()
	return m.register(reg)
}

// registration is a register_user send prepared under the lock and
// performed outside it.
type registration struct {
	out    Outbox
	userID string
	gen    uint64
}

func (m *Manager) beginRegisterLocked() registration {
	m.pending = m.identity
	return registration{out: m.out, userID: m.identity, gen: m.gen}
}

// register sends reg without holding m.mu. The result is recorded only if
// the connection and identity are unchanged since reg was prepared.
func (m *Manager) register(reg registration) error {
	if reg.out == nil {
		m.clearPending(reg)
		return ErrNotConnected
	}
	frame, err := ws.EncodeRegister(reg.userID)
	if err != nil {
		m.clearPending(reg)
		return fmt.Errorf("encoding registration: %w", err)
	}
	if err := reg.out.SendFrame(frame); err != nil {
		m.clearPending(reg)
		return fmt.Errorf("registering %s: %w", reg.userID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != reg.gen || m.identity != reg.userID {
		return nil
	}
	m.pending = ""
	m.registered = reg.userID
	m.state = StateRegistered
	m.logger.Info("registered", zap.String("user_id", reg.userID))
	return nil
}

func (m *Manager) clearPending(reg registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == reg.gen && m.pending == reg.userID {
		m.pending = ""
	}
}

// Received counts notifications decoded from the server, including those
// hidden by preferences.
func (m *Manager) Received() uint64 {
	return m.received.Load()
}

func (m *Manager) Disconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
	m.out = nil
	m.gen++
	m.registered = ""
	m.pending = ""
}

// HandleFrame processes one frame from the server.
func (m *Manager) HandleFrame(frame []byte) {
	env, err := ws.DecodeEnvelope(frame)
	if err != nil {
		m.logger.Debug("ignoring frame", zap.Error(err))
		return
	}

	switch env.Type {
	case ws.MsgNotification:
		n, err := env.NotificationPayload()
		if err != nil {
			m.logger.Debug("ignoring notification", zap.Error(err))
			return
		}
		m.received.Add(1)
		if !m.prefs.IsEnabled(n.EventType) {
			return
		}
		m.presenter.Present(notification.Format(n.Raw()), n)
	case ws.MsgError:
		m.logger.Warn("server error", zap.String("payload", string(env.Payload)))
	}
}
