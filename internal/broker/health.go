package broker

import (
	"sync"
	"time"
)

type Status string

const (
	StatusConnecting  Status = "connecting"
	StatusConnected   Status = "connected"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Health is a point-in-time view of the consumer, served on /health.
type Health struct {
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Processed           uint64    `json:"processed"`
	Malformed           uint64    `json:"malformed"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitzero"`
}

// healthTracker is written by the consume loop and read by HTTP handlers.
type healthTracker struct {
	mu          sync.Mutex
	status      Status
	failures    int
	processed   uint64
	malformed   uint64
	lastErr     string
	lastErrTime time.Time
}

func newHealthTracker() *healthTracker {
	return &healthTracker{status: StatusConnecting}
}

func (h *healthTracker) recordConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusConnected
	h.failures = 0
}

// recordFailure marks the consumer degraded while a retry burst is running.
func (h *healthTracker) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastErrTime = time.Now()
	if h.status != StatusUnavailable {
		h.status = StatusDegraded
	}
}

func (h *healthTracker) recordUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusUnavailable
}

func (h *healthTracker) recordProcessed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processed++
}

func (h *healthTracker) recordMalformed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.malformed++
	h.lastErr = err.Error()
	h.lastErrTime = time.Now()
}

func (h *healthTracker) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{
		Status:              h.status,
		ConsecutiveFailures: h.failures,
		Processed:           h.processed,
		Malformed:           h.malformed,
		LastError:           h.lastErr,
		LastErrorAt:         h.lastErrTime,
	}
}
