package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loykin/appvisor/internal/env"
	"github.com/loykin/appvisor/internal/logger"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/restart"
)

// pm2 defaults for options an app may omit.
const (
	DefaultAutoRestart = true
	DefaultMaxRestarts = 15
	DefaultKillTimeout = Millis(1600)
)

// envFileVar names the variable that points an app at its dotenv file.
const envFileVar = "ENV_FILE"

// ErrInvalidApp is wrapped by every declaration validation error.
var ErrInvalidApp = errors.New("invalid app declaration")

// App is one entry of an ecosystem file's apps list.
type App struct {
	Name        string            `mapstructure:"name" json:"name" yaml:"name"`
	Cwd         string            `mapstructure:"cwd" json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Script      string            `mapstructure:"script" json:"script" yaml:"script"`
	Interpreter string            `mapstructure:"interpreter" json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Args        []string          `mapstructure:"args" json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `mapstructure:"env" json:"env,omitempty" yaml:"env,omitempty"`
	EnvFile     string            `mapstructure:"env_file" json:"env_file,omitempty" yaml:"env_file,omitempty"`

	AutoRestart  *bool  `mapstructure:"autorestart" json:"autorestart,omitempty" yaml:"autorestart,omitempty"`
	MaxRestarts  *int   `mapstructure:"max_restarts" json:"max_restarts,omitempty" yaml:"max_restarts,omitempty"`
	RestartDelay Millis `mapstructure:"restart_delay" json:"restart_delay" yaml:"restart_delay"`
	MinUptime    Millis `mapstructure:"min_uptime" json:"min_uptime,omitempty" yaml:"min_uptime,omitempty"`
	KillTimeout  Millis `mapstructure:"kill_timeout" json:"kill_timeout,omitempty" yaml:"kill_timeout,omitempty"`

	Watch       Watch    `mapstructure:"watch" json:"watch" yaml:"watch"`
	IgnoreWatch []string `mapstructure:"ignore_watch" json:"ignore_watch,omitempty" yaml:"ignore_watch,omitempty"`

	LogDir    string `mapstructure:"log_dir" json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	OutFile   string `mapstructure:"out_file" json:"out_file,omitempty" yaml:"out_file,omitempty"`
	ErrorFile string `mapstructure:"error_file" json:"error_file,omitempty" yaml:"error_file,omitempty"`
	PIDFile   string `mapstructure:"pid_file" json:"pid_file,omitempty" yaml:"pid_file,omitempty"`
}

// Millis is a duration declared in milliseconds, as pm2 does.
type Millis int64

// Duration converts m to a time.Duration.
func (m Millis) Duration() time.Duration { return time.Duration(m) * time.Millisecond }

// Watch is the pm2 watch option: a boolean, or a list of paths which
// implies watching.
type Watch struct {
	Enabled bool
	Paths   []string
}

// Restarts reports autorestart with its default applied.
func (a App) Restarts() bool {
	if a.AutoRestart == nil {
		return DefaultAutoRestart
	}
	return *a.AutoRestart
}

// RestartLimit reports max_restarts with its default applied.
func (a App) RestartLimit() int {
	if a.MaxRestarts == nil {
		return DefaultMaxRestarts
	}
	return *a.MaxRestarts
}

// Policy returns the restart policy declared by the app.
func (a App) Policy() restart.Policy {
	return restart.Policy{
		AutoRestart:  a.Restarts(),
		MaxRestarts:  a.RestartLimit(),
		RestartDelay: a.RestartDelay.Duration(),
		MinUptime:    a.MinUptime.Duration(),
	}
}

// Validate checks one declaration.
func (a App) Validate() error {
	var errs []error
	switch name := strings.TrimSpace(a.Name); {
	case name == "":
		errs = append(errs, errors.New("name is required"))
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
		errs = append(errs, fmt.Errorf("name %q must not contain path separators", a.Name))
	}
	if strings.TrimSpace(a.Script) == "" {
		errs = append(errs, errors.New("script is required"))
	}
	if a.MaxRestarts != nil && *a.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("max_restarts must be >= 0, got %d", *a.MaxRestarts))
	}
	for _, f := range []struct {
		key string
		v   Millis
	}{{"restart_delay", a.RestartDelay}, {"min_uptime", a.MinUptime}, {"kill_timeout", a.KillTimeout}} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %d", f.key, f.v))
		}
	}
	for k := range a.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			errs = append(errs, fmt.Errorf("invalid env name %q", k))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidApp, a.Name, errors.Join(errs...))
}

// Spec converts the declaration into a runtime spec. Paths are resolved
// against Cwd, which the loader makes absolute.
func (a App) Spec() process.Spec {
	s := process.Spec{
		Name:        a.Name,
		WorkDir:     a.Cwd,
		Script:      a.Script,
		Interpreter: a.Interpreter,
		Args:        append([]string(nil), a.Args...),
		Env:         env.Pairs(a.Env),
		Policy:      a.Policy(),
		Watch:       a.Watch.Enabled,
		IgnoreWatch: append([]string(nil), a.IgnoreWatch...),
		KillTimeout: a.KillTimeout.Duration(),
		PIDFile:     a.resolve(a.PIDFile),
		Log: logger.Config{
			Dir:       a.resolve(a.LogDir),
			OutFile:   a.resolve(a.OutFile),
			ErrorFile: a.resolve(a.ErrorFile),
		},
	}
	switch {
	case a.EnvFile != "":
		s.EnvFile, s.EnvFileRequired = a.resolve(a.EnvFile), true
	case a.Env[envFileVar] != "":
		s.EnvFile = a.resolve(a.Env[envFileVar])
	}
	if s.Watch {
		for _, p := range a.Watch.Paths {
			s.WatchPaths = append(s.WatchPaths, a.resolve(p))
		}
		if len(s.WatchPaths) == 0 && a.Cwd != "" {
			s.WatchPaths = []string{a.Cwd}
		}
	}
	return s
}

func (a App) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || a.Cwd == "" {
		return p
	}
	return filepath.Join(a.Cwd, p)
}

// envKeys returns the env names in sorted order.
func (a App) envKeys() []string {
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
