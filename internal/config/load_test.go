package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_JSON(t *testing.T) {
	eco, err := Load(filepath.Join("testdata", "formats", "ecosystem.json"))
	require.NoError(t, err)
	require.Len(t, eco.Apps, 1)
	a := eco.Apps[0]

	base, _ := filepath.Abs(filepath.Join("testdata", "formats"))
	assert.Equal(t, filepath.Join(base, "srv"), a.Cwd)
	assert.Equal(t, []string{"--queue", "default", "--verbose"}, a.Args)
	assert.Equal(t, map[string]string{"DEBUG": "true", "WORKERS": "4"}, a.Env)
	assert.Equal(t, 3, a.RestartLimit())
	assert.Equal(t, Millis(1500), a.RestartDelay)
	assert.Equal(t, Watch{Enabled: true, Paths: []string{"src", "config"}}, a.Watch)

	s := a.Spec()
	assert.True(t, s.Watch)
	assert.Equal(t, []string{filepath.Join(a.Cwd, "src"), filepath.Join(a.Cwd, "config")}, s.WatchPaths)
	assert.Equal(t, []string{"src/cache"}, s.IgnoreWatch)
}

func TestLoad_YAML(t *testing.T) {
	eco, err := Load(filepath.Join("testdata", "formats", "ecosystem.yaml"))
	require.NoError(t, err)
	require.Len(t, eco.Apps, 1)
	a := eco.Apps[0]

	assert.Equal(t, "none", a.Interpreter)
	assert.Equal(t, []string{"--port", "8080"}, a.Args)
	assert.False(t, a.Restarts())
	assert.Equal(t, Millis(3000), a.KillTimeout)

	s := a.Spec()
	assert.Equal(t, 3*time.Second, s.KillTimeout)
	assert.Equal(t, filepath.Join(a.Cwd, ".env"), s.EnvFile)
	assert.True(t, s.EnvFileRequired)
	assert.Equal(t, filepath.Join(a.Cwd, "logs"), s.Log.Dir)
	assert.Empty(t, s.ResolvedInterpreter())
}

func TestLoad_TOMLSingleApp(t *testing.T) {
	eco, err := Load(filepath.Join("testdata", "formats", "ecosystem.toml"))
	require.NoError(t, err)
	require.Len(t, eco.Apps, 1)
	a := eco.Apps[0]
	assert.Equal(t, "cron-like", a.Name)
	assert.Equal(t, Millis(5000), a.MinUptime)
	assert.Equal(t, map[string]string{"TZ": "UTC"}, a.Env)

	s := a.Spec()
	assert.Equal(t, 5*time.Second, s.Policy.MinUptime)
	assert.Equal(t, []string{a.Cwd}, s.WatchPaths)
}

func TestLoad_JSFeatures(t *testing.T) {
	t.Setenv("APPVISOR_TEST_TOKEN", "s3cret")
	p := writeFile(t, "ecosystem.config.js", `
const path = require("path");
module.exports = {
  apps: [{
    name: "js-app",
    script: path.join(__dirname, "bin", "run.sh"),
    env: { TOKEN: process.env.APPVISOR_TEST_TOKEN, FILE: __filename },
    watch: ["lib"],
  }],
};`)
	eco, err := Load(p)
	require.NoError(t, err)
	a := eco.Apps[0]
	assert.Equal(t, filepath.Join(filepath.Dir(p), "bin", "run.sh"), a.Script)
	assert.Equal(t, "s3cret", a.Env["TOKEN"])
	assert.Equal(t, p, a.Env["FILE"])
	assert.Equal(t, []string{"lib"}, a.Watch.Paths)
}

func TestLoad_JSExportsShorthand(t *testing.T) {
	p := writeFile(t, "eco.cjs", `exports.apps = [{ name: "short", script: "a.sh" }];`)
	eco, err := Load(p)
	require.NoError(t, err)
	require.Len(t, eco.Apps, 1)
	assert.Equal(t, "short", eco.Apps[0].Name)
}

func TestLoad_JSErrors(t *testing.T) {
	_, err := Load(writeFile(t, "a.config.js", `require("fs"); module.exports = {apps: []};`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `require("fs") is not supported`)

	_, err = Load(writeFile(t, "b.config.js", `throw new Error("boom")`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	old := jsTimeout
	jsTimeout = 100 * time.Millisecond
	defer func() { jsTimeout = old }()
	_, err = Load(writeFile(t, "c.config.js", `for (;;) {}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.js"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "eco.ini", "x"))
	assert.ErrorContains(t, err, "unsupported ecosystem format")

	_, err = Load(writeFile(t, "eco.json", `{"version": 1}`))
	assert.ErrorIs(t, err, ErrNoApps)

	_, err = Load(writeFile(t, "eco.json", `{"apps": "bot"}`))
	assert.ErrorContains(t, err, "apps must be a list")

	_, err = Load(writeFile(t, "eco.json", `{"apps": [{"name": "a", "script": "x", "watch": 3}]}`))
	assert.ErrorContains(t, err, "watch must be a boolean")

	_, err = Load(writeFile(t, "eco.yaml", "apps:\n  - name: a\n    restart_delay: soon\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestLoadAll(t *testing.T) {
	ecos, err := LoadAll(
		filepath.Join("testdata", "prod", "ecosystem.config.js"),
		filepath.Join("testdata", "formats", "ecosystem.yaml"),
	)
	require.NoError(t, err)
	assert.Len(t, ecos, 2)

	_, err = LoadAll(filepath.Join("testdata", "nope.js"))
	assert.Error(t, err)
}

func TestWatch_Marshal(t *testing.T) {
	b, err := json.Marshal(Watch{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, "false", string(b))

	b, err = json.Marshal(Watch{Enabled: true, Paths: []string{"src"}})
	require.NoError(t, err)
	assert.Equal(t, `["src"]`, string(b))

	y, err := yaml.Marshal(struct {
		Watch Watch `yaml:"watch"`
	}{Watch{Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, "watch: true\n", string(y))
}
