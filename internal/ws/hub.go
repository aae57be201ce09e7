package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/event"
	"github.com/cktan21/spm-relay/internal/session"
)

var (
	ErrUnknownSession     = errors.New("unknown session")
	ErrSlowConsumer       = errors.New("session send queue full")
	ErrTooManyConnections = errors.New("too many connections")
	ErrHubClosed          = errors.New("hub is shut down")
)

// conn is one live session, either a WebSocket or a long-poll queue.
type conn interface {
	// enqueue queues frame without blocking and reports whether it fit.
	enqueue(frame []byte) bool
	// close releases the connection. Safe to call more than once.
	close()
	kind() string
}

type HubConfig struct {
	SendBuffer      int
	MaxConnections  int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	PollTimeout     time.Duration
	PollIdleTimeout time.Duration
}

// lifecycle carries either a session event or a flush marker.
type lifecycle struct {
	ev      session.Event
	flushed chan struct{}
}

// Hub owns the live sessions. Connection lifecycle changes are sent over a
// single channel and applied to the registry in order by Run.
type Hub struct {
	cfg      HubConfig
	registry *session.Registry
	logger   *zap.Logger

	mu     sync.RWMutex
	conns  map[session.Handle]conn
	closed bool

	events  chan lifecycle
	stopped chan struct{}
	stopRun sync.Once
}

func NewHub(cfg HubConfig, registry *session.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	return &Hub{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		conns:    make(map[session.Handle]conn),
		events:   make(chan lifecycle, 1024),
		stopped:  make(chan struct{}),
	}
}

// Run applies lifecycle events to the registry and expires idle poll
// sessions until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopRun.Do(func() { close(h.stopped) })
	go h.reapLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-h.events:
			if l.flushed != nil {
				close(l.flushed)
				continue
			}
			h.apply(l.ev)
		}
	}
}

func (h *Hub) apply(ev session.Event) {
	h.registry.Apply(ev)
	log := h.logger.With(zap.String("handle", string(ev.Handle)))
	switch ev.Type {
	case session.EventConnected:
		log.Debug("session connected")
	case session.EventRegistered:
		log.Info("user registered", zap.String("user_id", ev.UserID))
	case session.EventDisconnected:
		log.Debug("session disconnected")
	}
}

// emit must be called with h.mu held so that a registration is always
// queued before the disconnect of the same session.
func (h *Hub) emit(ev session.Event) {
	select {
	case h.events <- lifecycle{ev: ev}:
	case <-h.stopped:
	}
}

// add mints a handle for c and records the connection.
func (h *Hub) add(newConn func(session.Handle) conn) (session.Handle, conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", nil, ErrHubClosed
	}
	if h.cfg.MaxConnections > 0 && len(h.conns) >= h.cfg.MaxConnections {
		return "", nil, ErrTooManyConnections
	}

	handle := session.Handle(uuid.NewString())
	c := newConn(handle)
	h.conns[handle] = c
	h.emit(session.Event{Type: session.EventConnected, Handle: handle})
	return handle, c, nil
}

// register records userID for a live session. Frames from sessions that
// have already been removed are ignored.
func (h *Hub) register(handle session.Handle, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.conns[handle]; !ok {
		return false
	}
	h.emit(session.Event{Type: session.EventRegistered, Handle: handle, UserID: userID})
	return true
}

// remove drops the session and closes its connection. No-op for unknown
// handles.
func (h *Hub) remove(handle session.Handle) {
	h.mu.Lock()
	c, ok := h.conns[handle]
	if ok {
		delete(h.conns, handle)
		h.emit(session.Event{Type: session.EventDisconnected, Handle: handle})
	}
	h.mu.Unlock()

	if ok {
		c.close()
	}
}

func (h *Hub) lookup(handle session.Handle) (conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[handle]
	return c, ok
}

// Send queues frame for one session without blocking. A session whose queue
// is full is disconnected.
func (h *Hub) Send(handle session.Handle, frame []byte) error {
	c, ok := h.lookup(handle)
	if !ok {
		return ErrUnknownSession
	}
	if !c.enqueue(frame) {
		h.logger.Warn("session too slow, disconnecting", zap.String("handle", string(handle)))
		h.remove(handle)
		return ErrSlowConsumer
	}
	return nil
}

// Encode wraps n in the notification envelope sent to clients.
func (h *Hub) Encode(n event.Notification) ([]byte, error) {
	return EncodeNotification(n)
}

// handleFrame processes one client frame.
func (h *Hub) handleFrame(handle session.Handle, frame []byte) error {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return err
	}
	switch env.Type {
	case MsgRegisterUser:
		userID, err := env.RegisterPayload()
		if err != nil {
			return err
		}
		if userID == "" {
			return errors.New("register_user requires a user id")
		}
		h.register(handle, userID)
		return nil
	default:
		return errors.New("unsupported message type " + string(env.Type))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ConnectionCounts returns live sessions per transport kind.
func (h *Hub) ConnectionCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, 2)
	for _, c := range h.conns {
		out[c.kind()]++
	}
	return out
}

// Shutdown closes every session and waits until the lifecycle loop has
// applied the resulting disconnects, leaving the registry empty. Run must
// still be running.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	handles := make([]session.Handle, 0, len(h.conns))
	for handle := range h.conns {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	for _, handle := range handles {
		h.remove(handle)
	}

	flushed := make(chan struct{})
	select {
	case h.events <- lifecycle{flushed: flushed}:
	case <-h.stopped:
		return errors.New("hub lifecycle loop is not running")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-flushed:
		h.logger.Info("hub shut down", zap.Int("closed_sessions", len(handles)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) reapLoop(ctx context.Context) {
	if h.cfg.PollIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PollIdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.reapIdle(now)
		}
	}
}

// reapIdle removes poll sessions nobody has polled within PollIdleTimeout.
func (h *Hub) reapIdle(now time.Time) int {
	h.mu.RLock()
	var idle []session.Handle
	for handle, c := range h.conns {
		if pc, ok := c.(*pollConn); ok && pc.idleSince(now) > h.cfg.PollIdleTimeout {
			idle = append(idle, handle)
		}
	}
	h.mu.RUnlock()

	for _, handle := range idle {
		h.logger.Debug("expiring idle poll session", zap.String("handle", string(handle)))
		h.remove(handle)
	}
	return len(idle)
}
