package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Conn is one live connection to the relay.
type Conn interface {
	Outbox
	// ReadFrames calls fn for each received frame until the connection
	// fails or ctx is cancelled.
	ReadFrames(ctx context.Context, fn func([]byte)) error
	Close() error
	Kind() string
}

// wsTransport is a WebSocket connection with client-side keepalive.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialWS(ctx context.Context, socketURL string) (*wsTransport, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Kind() string { return "websocket" }

func (t *wsTransport) SendFrame(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) ReadFrames(ctx context.Context, fn func([]byte)) error {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.pingLoop(pingCtx)

	stop := context.AfterFunc(ctx, func() { t.conn.Close() })
	defer stop()

	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	t.conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(data)
	}
}

func (t *wsTransport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}

// pollTransport emulates a persistent connection with HTTP long-polling.
type pollTransport struct {
	http    *http.Client
	baseURL string
	sid     string
}

type pollOpen struct {
	SID string `json:"sid"`
}

func dialPoll(ctx context.Context, httpClient *http.Client, socketURL string) (*pollTransport, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	q := u.Query()
	q.Set("transport", "polling")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening poll session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opening poll session: %s", resp.Status)
	}
	var open pollOpen
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil || open.SID == "" {
		return nil, fmt.Errorf("opening poll session: bad response")
	}
	return &pollTransport{http: httpClient, baseURL: u.String(), sid: open.SID}, nil
}

func (t *pollTransport) Kind() string { return "polling" }

func (t *pollTransport) sessionURL() string {
	return t.baseURL + "&sid=" + url.QueryEscape(t.sid)
}

func (t *pollTransport) SendFrame(frame []byte) error {
	req, err := http.NewRequest(http.MethodPost, t.sessionURL(), bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (t *pollTransport) ReadFrames(ctx context.Context, fn func([]byte)) error {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.sessionURL(), nil)
		if err != nil {
			return err
		}
		resp, err := t.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("poll: %s", resp.Status)
		}
		var frames []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&frames)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("poll: decoding batch: %w", err)
		}
		for _, f := range frames {
			fn(f)
		}
	}
}

func (t *pollTransport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.sessionURL(), nil)
	if err != nil {
		return err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
