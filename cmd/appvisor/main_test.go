package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	pythonEco = "../../internal/config/testdata/prod/ecosystem.config.js"
	shellEco  = "../../internal/config/testdata/prod-shell/ecosystem.config.js"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateSingleFile(t *testing.T) {
	out, err := execRoot(t, "validate", pythonEco)
	require.NoError(t, err)
	assert.Contains(t, out, "ok goroskop-bot-prod:")
	assert.Contains(t, out, "app.py")
	assert.Contains(t, out, "max_restarts=10 restart_delay=2s watch=false")
}

func TestValidateReferenceFilesConflict(t *testing.T) {
	out, err := execRoot(t, "validate", pythonEco, shellEco)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `conflict "goroskop-bot-prod"`)
	assert.Contains(t, out, "warning: conflict")
	assert.Contains(t, out, "script")

	out, err = execRoot(t, "validate", "--allow-conflicts", pythonEco, shellEco)
	require.NoError(t, err)
	assert.Contains(t, out, "warning: conflict")
	assert.Contains(t, out, "ok goroskop-bot-prod:")
	assert.Contains(t, out, "app.py", "the first file wins")
	assert.NotContains(t, out, "run_prod.sh")
}

func TestValidateInvalidFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"apps":[{"name":"x","max_restarts":-1}]}`), 0o644))

	_, err := execRoot(t, "validate", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script is required")
	assert.Contains(t, err.Error(), "max_restarts")

	_, err = execRoot(t, "validate")
	require.Error(t, err)
}

func TestShowJSON(t *testing.T) {
	out, err := execRoot(t, "show", "-o", "json", shellEco)
	require.NoError(t, err)

	var got struct {
		Apps []map[string]any `json:"apps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Apps, 1)
	app := got.Apps[0]
	assert.Equal(t, "goroskop-bot-prod", app["name"])
	assert.Equal(t, "scripts/run_prod.sh", app["script"])
	assert.EqualValues(t, 10, app["max_restarts"])
	assert.EqualValues(t, 2000, app["restart_delay"])
	assert.Equal(t, false, app["watch"])
	assert.Equal(t, "1", app["env"].(map[string]any)["PYTHONUNBUFFERED"])
}

func TestShowYAML(t *testing.T) {
	out, err := execRoot(t, "show", pythonEco)
	require.NoError(t, err)

	var got struct {
		Apps []struct {
			Name         string `yaml:"name"`
			Interpreter  string `yaml:"interpreter"`
			MaxRestarts  int    `yaml:"max_restarts"`
			RestartDelay int    `yaml:"restart_delay"`
			Watch        bool   `yaml:"watch"`
		} `yaml:"apps"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Len(t, got.Apps, 1)
	assert.Equal(t, "goroskop-bot-prod", got.Apps[0].Name)
	assert.Equal(t, "./.venv/bin/python", got.Apps[0].Interpreter)
	assert.Equal(t, 10, got.Apps[0].MaxRestarts)
	assert.Equal(t, 2000, got.Apps[0].RestartDelay)
	assert.False(t, got.Apps[0].Watch)
}

func TestShowUnknownFormat(t *testing.T) {
	_, err := execRoot(t, "show", "-o", "xml", pythonEco)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestClientCommandsUnreachable(t *testing.T) {
	_, err := execRoot(t, "list", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "200ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestHistoryRequiresStore(t *testing.T) {
	t.Setenv("APPVISOR_HISTORY_DSN", "")
	_, err := execRoot(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history store")
}
