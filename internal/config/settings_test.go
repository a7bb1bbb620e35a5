package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_File(t *testing.T) {
	s, err := LoadSettings(filepath.Join("testdata", "settings.toml"))
	require.NoError(t, err)

	base, _ := filepath.Abs("testdata")
	assert.Equal(t, []string{filepath.Join(base, "prod", "ecosystem.config.js")}, s.Apps)
	assert.Equal(t, []string{"TZ=UTC"}, s.Env)
	assert.Equal(t, []string{filepath.Join(base, ".env.global")}, s.EnvFiles)
	assert.Equal(t, "127.0.0.1:9700", s.Server.Listen)
	assert.Equal(t, DefaultBasePath, s.Server.BasePath)
	assert.Equal(t, FrameworkEcho, s.Server.Framework)
	assert.True(t, s.Metrics.Enabled)
	assert.Equal(t, "sqlite://history.db", s.History.DSN)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)

	logs := s.AppLogs.Logger()
	assert.Equal(t, filepath.Join(base, "logs"), logs.Dir)
	assert.Equal(t, 5, logs.MaxBackups)
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, s.Server.Listen)
	assert.Equal(t, FrameworkGin, s.Server.Framework)
	assert.False(t, s.Metrics.Enabled)
	assert.Empty(t, s.History.DSN)
}

func TestLoadSettings_EnvOverride(t *testing.T) {
	t.Setenv("APPVISOR_SERVER_LISTEN", "0.0.0.0:1234")
	t.Setenv("APPVISOR_LOG_LEVEL", "warn")
	s, err := LoadSettings(filepath.Join("testdata", "settings.toml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:1234", s.Server.Listen)
	assert.Equal(t, "warn", s.Log.Level)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Setenv("APPVISOR_SERVER_FRAMEWORK", "chi")
	_, err := LoadSettings("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.framework")

	_, err = LoadSettings(filepath.Join("testdata", "absent.toml"))
	assert.Error(t, err)

	s := &Settings{Server: ServerSettings{Framework: FrameworkGin, BasePath: "api"}, Env: []string{"NOEQ"}}
	err = s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_path")
	assert.Contains(t, err.Error(), "KEY=VALUE")
}
