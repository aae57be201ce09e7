package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/session"
)

const maxFrameSize = 4096

type wsConn struct {
	hub    *Hub
	handle session.Handle
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWSConn(hub *Hub, handle session.Handle, conn *websocket.Conn) *wsConn {
	return &wsConn{
		hub:    hub,
		handle: handle,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) kind() string { return "websocket" }

func (c *wsConn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) writeDeadline() time.Time {
	if c.hub.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.hub.cfg.WriteTimeout)
}

// writePump is the only writer on the connection. Any write error drops the
// session from the hub.
func (c *wsConn) writePump() {
	var ping <-chan time.Time
	if c.hub.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.hub.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		c.conn.Close()
		c.hub.remove(c.handle)
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(c.writeDeadline())
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("ws write failed", zap.String("handle", string(c.handle)), zap.Error(err))
				return
			}
		case <-ping:
			c.conn.SetWriteDeadline(c.writeDeadline())
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// readPump reads client frames until the connection fails, then removes
// the session.
func (c *wsConn) readPump() {
	defer c.hub.remove(c.handle)

	c.conn.SetReadLimit(maxFrameSize)
	if c.hub.cfg.PongTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := c.hub.handleFrame(c.handle, data); err != nil {
			c.hub.logger.Debug("rejecting client frame", zap.String("handle", string(c.handle)), zap.Error(err))
			c.enqueue(EncodeError(err.Error()))
		}
	}
}
