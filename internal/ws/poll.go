package ws

import (
	"context"
	"sync"
	"time"

	"github.com/cktan21/spm-relay/internal/session"
)

// pollConn is a long-poll session: frames queue until the next poll request
// takes them.
type pollConn struct {
	handle session.Handle
	limit  int

	mu       sync.Mutex
	queue    [][]byte
	lastSeen time.Time
	active   int

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newPollConn(handle session.Handle, limit int) *pollConn {
	return &pollConn{
		handle:   handle,
		limit:    limit,
		lastSeen: time.Now(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (c *pollConn) kind() string { return "polling" }

func (c *pollConn) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
	}
	if len(c.queue) >= c.limit {
		return false
	}
	c.queue = append(c.queue, frame)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *pollConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *pollConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// idleSince reports how long the session has gone without a poll. A session
// with a poll in progress is never idle.
func (c *pollConn) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active > 0 {
		return 0
	}
	return now.Sub(c.lastSeen)
}

// take waits up to timeout for queued frames and returns all of them. ok is
// false once the session is closed and drained.
func (c *pollConn) take(ctx context.Context, timeout time.Duration) (frames [][]byte, ok bool) {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active--
		c.lastSeen = time.Now()
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			frames, c.queue = c.queue, nil
			c.mu.Unlock()
			return frames, true
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
			return nil, false
		case <-timer.C:
			return nil, true
		case <-ctx.Done():
			return nil, true
		}
	}
}
