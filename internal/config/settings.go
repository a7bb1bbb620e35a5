package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loykin/appvisor/internal/logger"
	"github.com/spf13/viper"
)

// Settings configures the daemon itself, as opposed to the apps it runs.
type Settings struct {
	Apps     []string        `mapstructure:"apps"` // ecosystem files loaded by "run" when none are given
	Env      []string        `mapstructure:"env"`  // KEY=VALUE applied to every app
	EnvFiles []string        `mapstructure:"env_files"`
	PIDFile  string          `mapstructure:"pid_file"`
	Server   ServerSettings  `mapstructure:"server"`
	Metrics  MetricsSettings `mapstructure:"metrics"`
	History  HistorySettings `mapstructure:"history"`
	Log      logger.Options  `mapstructure:"log"`
	AppLogs  AppLogSettings  `mapstructure:"app_logs"`
}

type ServerSettings struct {
	Listen    string `mapstructure:"listen"`
	BasePath  string `mapstructure:"base_path"`
	Framework string `mapstructure:"framework"` // gin or echo
}

type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // empty serves /metrics on the API listener
}

type HistorySettings struct {
	DSN string `mapstructure:"dsn"` // sqlite://, postgres://, clickhouse://; empty disables
}

// AppLogSettings are defaults for apps that do not set their own log files.
type AppLogSettings struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Logger converts the defaults into a logger.Config.
func (s AppLogSettings) Logger() logger.Config {
	return logger.Config{
		Dir:        s.Dir,
		MaxSizeMB:  s.MaxSizeMB,
		MaxBackups: s.MaxBackups,
		MaxAgeDays: s.MaxAgeDays,
		Compress:   s.Compress,
	}
}

const (
	DefaultListen   = "127.0.0.1:9615"
	DefaultBasePath = "/api"
	FrameworkGin    = "gin"
	FrameworkEcho   = "echo"
)

// EnvPrefix prefixes environment overrides, e.g. APPVISOR_SERVER_LISTEN.
const EnvPrefix = "APPVISOR"

// LoadSettings reads daemon settings from path (toml, yaml or json by
// extension) with APPVISOR_* environment overrides. An empty path yields
// defaults plus overrides. Relative file paths resolve against the
// settings file's directory.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := ""
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings: %w", err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		base = filepath.Dir(abs)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if base != "" {
		for i := range s.Apps {
			s.Apps[i] = resolveFrom(base, s.Apps[i])
		}
		for i := range s.EnvFiles {
			s.EnvFiles[i] = resolveFrom(base, s.EnvFiles[i])
		}
		s.PIDFile = resolveFrom(base, s.PIDFile)
		s.Log.File = resolveFrom(base, s.Log.File)
		s.AppLogs.Dir = resolveFrom(base, s.AppLogs.Dir)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.framework", FrameworkGin)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("app_logs.dir", "")
}

// Validate checks daemon settings.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Server.Framework {
	case FrameworkGin, FrameworkEcho:
	default:
		errs = append(errs, fmt.Errorf("server.framework must be %q or %q, got %q", FrameworkGin, FrameworkEcho, s.Server.Framework))
	}
	if bp := s.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", bp))
	}
	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for _, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("env entry %q must be KEY=VALUE", kv))
		}
	}
	return errors.Join(errs...)
}

func resolveFrom(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
