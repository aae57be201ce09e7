package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cktan21/spm-relay/internal/broker"
	"github.com/cktan21/spm-relay/internal/config"
	"github.com/cktan21/spm-relay/internal/ws"
)

func noBroker(context.Context, broker.Config) (broker.Reader, error) {
	return nil, errors.New("no broker in tests")
}

func TestServe_ShutdownWithOpenLongPoll(t *testing.T) {
	cfg := config.Defaults()
	cfg.Transport.PollTimeout = 25 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String() + cfg.Server.Path + "?transport=polling"

	core, logs := observer.New(zapcore.DebugLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, cfg, zap.New(core), broker.WithOpener(noBroker)) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(base)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	var open struct {
		SID string `json:"sid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&open))
	resp.Body.Close()
	require.NotEmpty(t, open.SID)
	sessionURL := base + "&sid=" + open.SID

	frame, err := ws.EncodeRegister("u1")
	require.NoError(t, err)
	resp, err = http.Post(sessionURL, "application/json", bytes.NewReader(frame))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("user registered").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	pollStatus := make(chan int, 1)
	go func() {
		resp, err := http.Get(sessionURL)
		if err != nil {
			pollStatus <- 0
			return
		}
		resp.Body.Close()
		pollStatus <- resp.StatusCode
	}()
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown waited for the pending long-poll")
	}
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case status := <-pollStatus:
		assert.Equal(t, http.StatusGone, status)
	case <-time.After(2 * time.Second):
		t.Fatal("pending poll was not released")
	}

	assert.Zero(t, logs.FilterMessage("hub shutdown").Len())
	assert.Zero(t, logs.FilterMessage("http shutdown").Len())

	stopped := logs.FilterMessage("relay stopped").All()
	require.Len(t, stopped, 1)
	fields := stopped[0].ContextMap()
	assert.EqualValues(t, 0, fields["users"])
	assert.EqualValues(t, 0, fields["sessions"])
}
