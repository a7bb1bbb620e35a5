//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/appvisor/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestProcess_StartExitCode(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "run.sh", `echo "hello $GREETING"; echo oops >&2; exit 3`)

	p := New(Spec{
		Name:    "bot",
		WorkDir: dir,
		Script:  "run.sh",
		PIDFile: filepath.Join(dir, "bot.pid"),
		Log:     logger.Config{Dir: filepath.Join(dir, "logs")},
	})
	done, err := p.Start([]string{"GREETING=world", "PATH=" + os.Getenv("PATH")})
	require.NoError(t, err)
	waitDone(t, done)

	st := p.Snapshot()
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, 3, st.ExitCode)
	assert.NotEmpty(t, st.ExitErr)
	assert.Positive(t, st.PID)
	assert.False(t, p.Alive())
	require.NoError(t, p.Close())

	out, err := os.ReadFile(filepath.Join(dir, "logs", "bot-out.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(out))
	errOut, err := os.ReadFile(filepath.Join(dir, "logs", "bot-error.log"))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))

	_, err = os.Stat(filepath.Join(dir, "bot.pid"))
	assert.True(t, os.IsNotExist(err), "pid file should be removed on exit")
}

func TestProcess_StopGraceful(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "run.sh", "sleep 30")

	p := New(Spec{Name: "sleeper", WorkDir: dir, Script: "run.sh"})
	done, err := p.Start(nil)
	require.NoError(t, err)
	require.True(t, p.Alive())
	assert.Equal(t, StateOnline, p.Snapshot().State)

	again, err := p.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, done, again, "starting a live process returns its channel")

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), DefaultKillTimeout)
	assert.True(t, p.StopRequested())
	assert.False(t, p.Alive())
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "run.sh", `trap '' TERM; while true; do sleep 0.1; done`)

	p := New(Spec{Name: "stubborn", WorkDir: dir, Script: "run.sh", KillTimeout: 300 * time.Millisecond})
	_, err := p.Start(nil)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, -1, p.Snapshot().ExitCode)
}

func TestProcess_StartFailure(t *testing.T) {
	p := New(Spec{Name: "missing", WorkDir: t.TempDir(), Interpreter: "/nonexistent/python", Script: "app.py"})
	done, err := p.Start(nil)
	require.Error(t, err)
	assert.Nil(t, done)
	st := p.Snapshot()
	assert.Equal(t, StateStopped, st.State)
	assert.True(t, strings.Contains(st.ExitErr, "nonexistent"))
	assert.Zero(t, st.Uptime)
	assert.False(t, st.StartedAt.IsZero())
}

func TestProcess_KillNotRunning(t *testing.T) {
	p := New(Spec{Name: "idle", Script: "x"})
	assert.ErrorIs(t, p.Kill(), ErrNotRunning)
	assert.NoError(t, p.Stop())
}

func TestProcess_RestartCounter(t *testing.T) {
	p := New(Spec{Name: "counter", Script: "x"})
	assert.Equal(t, 1, p.IncRestarts())
	assert.Equal(t, 2, p.IncRestarts())
	assert.Equal(t, 2, p.Snapshot().Restarts)
	p.ResetRestarts()
	assert.Equal(t, 0, p.Restarts())
}

func TestProcess_SysProcAttrSetpgid(t *testing.T) {
	p := New(Spec{Name: "pg", Script: "x"})
	cmd := p.ConfigureCmd([]string{"A=1"})
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
	assert.Equal(t, []string{"A=1"}, cmd.Env)
}
