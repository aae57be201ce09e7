package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Transport selection for Options.Transport.
const (
	TransportAuto      = "auto"
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Status is reported on every connect and disconnect.
type Status struct {
	Connected bool
	Transport string
	Err       error
	RetryIn   time.Duration
}

type Options struct {
	// URL of the relay socket endpoint, e.g. http://localhost:8080/socket.
	URL        string
	Transport  string
	HTTPClient *http.Client
	OnStatus   func(Status)
	Logger     *zap.Logger

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// Client keeps a connection to the relay open and feeds its lifecycle and
// frames to a Manager.
type Client struct {
	opts    Options
	manager *Manager
	logger  *zap.Logger
}

func New(opts Options, m *Manager) *Client {
	if opts.Transport == "" {
		opts.Transport = TransportAuto
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = reconnectBaseDelay
	}
	if opts.ReconnectMaxDelay < opts.ReconnectBaseDelay {
		opts.ReconnectMaxDelay = max(reconnectMaxDelay, opts.ReconnectBaseDelay)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{opts: opts, manager: m, logger: logger}
}

// Run connects, reads until the connection drops and reconnects with
// exponential backoff. It returns when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.ReconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("connect failed", zap.Error(err), zap.Duration("retry_in", delay))
			c.report(Status{Err: err, RetryIn: delay})
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, c.opts.ReconnectMaxDelay)
			continue
		}
		delay = c.opts.ReconnectBaseDelay

		c.logger.Info("connected", zap.String("transport", conn.Kind()))
		if err := c.manager.Connected(conn); err != nil {
			c.logger.Warn("registration failed", zap.Error(err))
		}
		c.report(Status{Connected: true, Transport: conn.Kind()})

		err = conn.ReadFrames(ctx, c.manager.HandleFrame)
		c.manager.Disconnected()
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("disconnected", zap.Error(err))
		c.report(Status{Err: err, RetryIn: delay})
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	switch c.opts.Transport {
	case TransportWebSocket:
		return dialWS(ctx, c.opts.URL)
	case TransportPolling:
		return dialPoll(ctx, c.opts.HTTPClient, c.opts.URL)
	}

	wsConn, wsErr := dialWS(ctx, c.opts.URL)
	if wsErr == nil {
		return wsConn, nil
	}
	c.logger.Debug("websocket unavailable, falling back to polling", zap.Error(wsErr))
	pollConn, err := dialPoll(ctx, c.opts.HTTPClient, c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w; %w", wsErr, err)
	}
	return pollConn, nil
}

func (c *Client) report(s Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
