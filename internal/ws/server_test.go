package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cktan21/spm-relay/internal/broker"
	"github.com/cktan21/spm-relay/internal/config"
	"github.com/cktan21/spm-relay/internal/event"
	"github.com/cktan21/spm-relay/internal/session"
)

type staticHealth broker.Health

func (h staticHealth) Health() broker.Health { return broker.Health(h) }

func newTestServer(t *testing.T, mutate func(*config.Config), reporter HealthReporter) (*httptest.Server, *Hub, *session.Registry) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Transport.PollTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	hub, reg := startHub(t, HubConfigFrom(cfg.Transport))
	srv := httptest.NewServer(NewServer(cfg, hub, reg, reporter, zaptest.NewLogger(t)).Handler())
	t.Cleanup(srv.Close)
	return srv, hub, reg
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}
	for header, expected := range want {
		assert.Equal(t, expected, rec.Header().Get(header), header)
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(config.Defaults(), NewHub(testHubConfig(), session.NewRegistry(), nil), session.NewRegistry(), nil, nil)

	restrictedCfg := config.Defaults()
	restrictedCfg.Server.AllowedOrigins = []string{"https://app.example.com", " "}
	restricted := NewServer(restrictedCfg, NewHub(testHubConfig(), session.NewRegistry(), nil), session.NewRegistry(), nil, nil)

	tests := []struct {
		name   string
		srv    *Server
		origin string
		want   bool
	}{
		{"no origin", open, "", true},
		{"same host", open, "http://relay.internal:8080", true},
		{"localhost", open, "http://localhost:3000", true},
		{"loopback", open, "http://127.0.0.1", true},
		{"ipv6 loopback", open, "http://[::1]:3000", true},
		{"foreign", open, "https://evil.example.org", false},
		{"garbage", open, "::::", false},
		{"allowed exact", restricted, "https://app.example.com", true},
		{"allowed host other scheme", restricted, "http://app.example.com", true},
		{"not allowed", restricted, "http://localhost:3000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://relay.internal:8080/socket", nil)
			req.Host = "relay.internal:8080"
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, tt.srv.checkOrigin(req))
		})
	}
}

func TestSocketRequiresUpgradeOrPolling(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/socket")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRegisterAndReceive(t *testing.T) {
	srv, hub, reg := newTestServer(t, nil, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := EncodeRegister("u1")
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	var handles []session.Handle
	require.Eventually(t, func() bool {
		handles = reg.SessionsFor("u1")
		return len(handles) == 1
	}, 2*time.Second, 5*time.Millisecond)

	out, err := EncodeNotification(event.Notification{EventType: event.TaskCreated, Data: map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, hub.Send(handles[0], out))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(out), string(got))
}

func TestWebSocketBadFrameGetsError(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, MsgError, env.Type)
}

func TestWebSocketTooManyConnections(t *testing.T) {
	srv, hub, _ := newTestServer(t, func(c *config.Config) { c.Transport.MaxConnections = 1 }, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPollingLifecycle(t *testing.T) {
	srv, hub, reg := newTestServer(t, nil, nil)
	base := srv.URL + "/socket?transport=polling"

	resp, err := http.Get(base)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var opened pollOpenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opened))
	resp.Body.Close()
	require.NotEmpty(t, opened.SID)
	assert.Equal(t, int64(200), opened.PollTimeoutMS)
	sidURL := base + "&sid=" + opened.SID

	frame, err := EncodeRegister("u1")
	require.NoError(t, err)
	resp, err = http.Post(sidURL, "application/json", strings.NewReader(string(frame)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool { return len(reg.SessionsFor("u1")) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Empty poll times out with an empty batch.
	resp, err = http.Get(sidURL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	out, err := EncodeNotification(event.Notification{EventType: event.TaskUpdated, Data: map[string]any{"uid": "u1"}})
	require.NoError(t, err)
	require.NoError(t, hub.Send(session.Handle(opened.SID), out))
	require.NoError(t, hub.Send(session.Handle(opened.SID), out))

	resp, err = http.Get(sidURL)
	require.NoError(t, err)
	var batch []Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batch))
	resp.Body.Close()
	require.Len(t, batch, 2)
	assert.Equal(t, MsgNotification, batch[0].Type)

	// Bad frame is answered with an error envelope.
	resp, err = http.Post(sidURL, "application/json", strings.NewReader(`{"type":"nope"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, sidURL, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool { return len(reg.SessionsFor("u1")) == 0 }, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(sidURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPollClosedWhileWaiting(t *testing.T) {
	srv, hub, _ := newTestServer(t, func(c *config.Config) {
		c.Transport.PollTimeout = 5 * time.Second
	}, nil)
	base := srv.URL + "/socket?transport=polling"

	resp, err := http.Get(base)
	require.NoError(t, err)
	var opened pollOpenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opened))
	resp.Body.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	}()

	resp, err = http.Get(base + "&sid=" + opened.SID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	reporter := staticHealth{Status: broker.StatusUnavailable, ConsecutiveFailures: 8, Malformed: 2}
	srv, hub, _ := newTestServer(t, nil, reporter)

	_, _, err := hub.add(func(h session.Handle) conn { return newPollConn(h, 1) })
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	require.NotNil(t, body.Broker)
	assert.Equal(t, broker.StatusUnavailable, body.Broker.Status)
	assert.Equal(t, uint64(2), body.Broker.Malformed)
	assert.Equal(t, 1, body.Connections["polling"])
	assert.Positive(t, body.Process.Goroutines)
}

func TestHealthWithoutBroker(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Nil(t, body.Broker)
}
