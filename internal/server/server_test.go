//go:build !windows

package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnknownFramework(t *testing.T) {
	_, err := New(Config{Framework: "fiber"}, newTestManager(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fiber")
}

func TestEchoFront(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := newTestManager(t)
	registerSleeper(t, mgr, "bot")

	s, err := New(Config{Listen: "127.0.0.1:0", BasePath: "/api", Framework: FrameworkEcho, Metrics: true}, mgr)
	require.NoError(t, err)
	h := s.Handler()

	rec := doReq(h, http.MethodGet, "/api/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"apps":1}`, rec.Body.String())

	rec = doReq(h, http.MethodGet, "/api/apps/bot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bot", decodeStatus(t, rec).Name)

	assert.Equal(t, http.StatusNotFound, doReq(h, http.MethodGet, "/api/apps/nope").Code)
	assert.Equal(t, http.StatusOK, doReq(h, http.MethodGet, "/metrics").Code)
}

func TestSeparateMetricsListener(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := New(Config{Listen: "127.0.0.1:0", Metrics: true, MetricsListen: "127.0.0.1:0"}, newTestManager(t))
	require.NoError(t, err)
	require.NotNil(t, s.metrics)
	assert.Equal(t, http.StatusNotFound, doReq(s.Handler(), http.MethodGet, "/metrics").Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := New(Config{Listen: "127.0.0.1:0"}, newTestManager(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeListenError(t *testing.T) {
	s, err := New(Config{Listen: "256.0.0.1:99999"}, newTestManager(t))
	require.NoError(t, err)
	err = s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
