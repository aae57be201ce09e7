package ws

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/broker"
	"github.com/cktan21/spm-relay/internal/config"
	"github.com/cktan21/spm-relay/internal/session"
)

// HealthReporter is implemented by broker.Consumer.
type HealthReporter interface {
	Health() broker.Health
}

type Server struct {
	path      string
	transport config.TransportConfig
	hub       *Hub
	registry  *session.Registry
	broker    HealthReporter
	logger    *zap.Logger
	proc      *process.Process
	started   time.Time

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

// HubConfigFrom maps the transport section of the config onto the hub.
func HubConfigFrom(t config.TransportConfig) HubConfig {
	return HubConfig{
		SendBuffer:      t.SendBuffer,
		MaxConnections:  t.MaxConnections,
		WriteTimeout:    t.WriteTimeout,
		PingInterval:    t.PingInterval,
		PongTimeout:     t.PongTimeout,
		PollTimeout:     t.PollTimeout,
		PollIdleTimeout: t.PollIdleTimeout,
	}
}

// NewServer builds the HTTP surface. reporter may be nil when no consumer
// is running.
func NewServer(cfg *config.Config, hub *Hub, registry *session.Registry, reporter HealthReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		path:           cfg.Server.Path,
		transport:      cfg.Transport,
		hub:            hub,
		registry:       registry,
		broker:         reporter,
		logger:         logger,
		started:        time.Now(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		logger.Warn("process stats unavailable", zap.Error(err))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get(s.path, s.handleSocket)
	r.Post(s.path, s.handlePollSend)
	r.Delete(s.path, s.handlePollClose)
	r.Get("/health", s.handleHealth)
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func isPolling(r *http.Request) bool {
	return r.URL.Query().Get("transport") == "polling"
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if isPolling(r) {
		if sid := r.URL.Query().Get("sid"); sid != "" {
			s.handlePoll(w, r, session.Handle(sid))
			return
		}
		s.handlePollOpen(w, r)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade or transport=polling", http.StatusBadRequest)
		return
	}
	s.handleWS(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if limit := s.hub.cfg.MaxConnections; limit > 0 && s.hub.ClientCount() >= limit {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	wsc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	var c *wsConn
	handle, _, err := s.hub.add(func(h session.Handle) conn {
		c = newWSConn(s.hub, h, wsc)
		return c
	})
	if err != nil {
		code := websocket.CloseTryAgainLater
		msg := websocket.FormatCloseMessage(code, err.Error())
		_ = wsc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		wsc.Close()
		return
	}

	s.logger.Info("websocket session opened", zap.String("handle", string(handle)), zap.String("remote", r.RemoteAddr))
	go c.writePump()
	go c.readPump()
}

type pollOpenResponse struct {
	SID           string `json:"sid"`
	PollTimeoutMS int64  `json:"poll_timeout_ms"`
}

func (s *Server) handlePollOpen(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	handle, _, err := s.hub.add(func(h session.Handle) conn {
		return newPollConn(h, s.hub.cfg.SendBuffer)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.logger.Info("poll session opened", zap.String("handle", string(handle)), zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, pollOpenResponse{
		SID:           string(handle),
		PollTimeoutMS: s.transport.PollTimeout.Milliseconds(),
	})
}

func (s *Server) pollConn(w http.ResponseWriter, handle session.Handle) (*pollConn, bool) {
	c, ok := s.hub.lookup(handle)
	if !ok {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return nil, false
	}
	pc, ok := c.(*pollConn)
	if !ok {
		http.Error(w, "session is not a polling session", http.StatusBadRequest)
		return nil, false
	}
	return pc, true
}

// handlePoll answers with a JSON array of the queued frames, or an empty
// array when the poll timeout passes first.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request, handle session.Handle) {
	pc, ok := s.pollConn(w, handle)
	if !ok {
		return
	}
	frames, open := pc.take(r.Context(), s.transport.PollTimeout)
	if !open {
		http.Error(w, "session closed", http.StatusGone)
		return
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(f)
	}
	buf.WriteByte(']')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handlePollSend(w http.ResponseWriter, r *http.Request) {
	if !isPolling(r) {
		http.Error(w, "POST requires transport=polling", http.StatusBadRequest)
		return
	}
	handle := session.Handle(r.URL.Query().Get("sid"))
	pc, ok := s.pollConn(w, handle)
	if !ok {
		return
	}
	pc.touch()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize+1))
	if err != nil || len(body) > maxFrameSize {
		http.Error(w, "frame too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.hub.handleFrame(handle, body); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(EncodeError(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	if !isPolling(r) {
		http.Error(w, "DELETE requires transport=polling", http.StatusBadRequest)
		return
	}
	handle := session.Handle(r.URL.Query().Get("sid"))
	if _, ok := s.pollConn(w, handle); !ok {
		return
	}
	s.hub.remove(handle)
	w.WriteHeader(http.StatusNoContent)
}

type processStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

type healthResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	Users       int            `json:"users"`
	Sessions    int            `json:"registered_sessions"`
	Connections map[string]int `json:"connections"`
	Broker      *broker.Health `json:"broker,omitempty"`
	Process     processStats   `json:"process"`
}

// handleHealth always answers 200; a broker outage shows up as status
// "degraded" because the relay keeps serving connections.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	users, sessions := s.registry.Len()
	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Users:       users,
		Sessions:    sessions,
		Connections: s.hub.ConnectionCounts(),
		Process:     s.processStats(),
	}
	if s.broker != nil {
		h := s.broker.Health()
		resp.Broker = &h
		if h.Status != broker.StatusConnected {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) processStats() processStats {
	ps := processStats{Goroutines: runtime.NumGoroutine()}
	if s.proc == nil {
		return ps
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		ps.RSSBytes = mem.RSS
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	return ps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return host == "::1"
}
