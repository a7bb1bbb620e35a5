//go:build !windows

package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/appvisor/internal/config"
	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/history/sqlite"
	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/restart"
	"github.com/loykin/appvisor/internal/server"
)

func writeCrasher(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crash.sh"), []byte("#!/bin/sh\nexit 3\n"), 0o755))
	eco := filepath.Join(dir, "ecosystem.json")
	require.NoError(t, os.WriteFile(eco, []byte(`{
  "apps": [{
    "name": "crasher",
    "script": "crash.sh",
    "max_restarts": 2,
    "restart_delay": 50
  }]
}`), 0o644))
	return eco
}

func testSettings(t *testing.T, dir string) *config.Settings {
	t.Helper()
	s, err := config.LoadSettings("")
	require.NoError(t, err)
	s.Server.Listen = "127.0.0.1:0"
	s.History.DSN = "sqlite://" + filepath.Join(dir, "history.db")
	s.PIDFile = filepath.Join(dir, "appvisor.pid")
	s.Env = []string{"PATH=" + os.Getenv("PATH")}
	return s
}

func TestRunDaemonCrashLoopRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	eco := writeCrasher(t, dir)
	s := testSettings(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, s, []string{eco}, false) }()

	dbPath := filepath.Join(dir, "history.db")
	require.Eventually(t, func() bool {
		sink, err := sqlite.New(dbPath)
		if err != nil {
			return false
		}
		defer func() { _ = sink.Close() }()
		events, err := sink.Recent(context.Background(), "crasher", 50)
		if err != nil {
			return false
		}
		for _, e := range events {
			if e.Type == history.EventErrored {
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)

	pid, err := process.ReadPIDFile(s.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("runDaemon did not return")
	}
	_, err = os.Stat(s.PIDFile)
	assert.True(t, os.IsNotExist(err), "pid file removed on exit")

	out, err := execRoot(t, "history", "crasher", "--db", dbPath, "-n", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "errored")
	assert.Contains(t, out, "max restarts reached")
	assert.Equal(t, 3, strings.Count(out, " start "), "initial launch plus two relaunches")
}

func TestRunDaemonRejectsConflicts(t *testing.T) {
	s := testSettings(t, t.TempDir())
	err := runDaemon(context.Background(), s, []string{pythonEco, shellEco}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
}

func TestRunDaemonNoFiles(t *testing.T) {
	s := testSettings(t, t.TempDir())
	err := runDaemon(context.Background(), s, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ecosystem files")
}

func TestClientCommands(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	mgr := manager.NewManager(manager.WithGlobalEnv([]string{"PATH=" + os.Getenv("PATH")}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	require.NoError(t, mgr.Register(process.Spec{
		Name:    "sleeper",
		WorkDir: dir,
		Script:  "run.sh",
		Policy:  restart.Policy{AutoRestart: true, MaxRestarts: 3},
	}))
	srv, err := server.New(server.Config{BasePath: "/api"}, mgr)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	api := ts.URL + "/api"

	out, err := execRoot(t, "list", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "sleeper")
	assert.Contains(t, out, "stopped")

	out, err = execRoot(t, "start", "sleeper", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "online")

	out, err = execRoot(t, "status", "sleeper", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "online"`)

	out, err = execRoot(t, "stop", "sleeper", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")

	_, err = execRoot(t, "restart", "missing", "--api-url", api)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
