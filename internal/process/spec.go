package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/loykin/appvisor/internal/logger"
	"github.com/loykin/appvisor/internal/restart"
)

// InterpreterNone disables interpreter detection: the script is executed directly.
const InterpreterNone = "none"

// DefaultKillTimeout is the grace period between SIGTERM and SIGKILL.
const DefaultKillTimeout = 1600 * time.Millisecond

// ErrInvalidSpec is wrapped by all Spec validation errors.
var ErrInvalidSpec = errors.New("invalid app spec")

// interpreters picks an interpreter by script extension when none is declared.
var interpreters = map[string]string{
	".py":   "python3",
	".sh":   "/bin/sh",
	".bash": "bash",
	".js":   "node",
	".rb":   "ruby",
	".pl":   "perl",
	".php":  "php",
}

// Spec describes an app to be supervised.
type Spec struct {
	Name        string   `json:"name"`
	WorkDir     string   `json:"cwd,omitempty"`
	Script      string   `json:"script"`
	Interpreter string   `json:"interpreter,omitempty"`
	Args        []string `json:"args,omitempty"`
	Env         []string `json:"env,omitempty"` // KEY=VALUE, applied last
	// EnvFile is a dotenv file merged under Env. A missing file is an error
	// only when EnvFileRequired is set.
	EnvFile         string         `json:"env_file,omitempty"`
	EnvFileRequired bool           `json:"env_file_required,omitempty"`
	Policy          restart.Policy `json:"policy"`
	Watch           bool           `json:"watch"`
	WatchPaths      []string       `json:"watch_paths,omitempty"`
	IgnoreWatch     []string       `json:"ignore_watch,omitempty"`
	KillTimeout     time.Duration  `json:"kill_timeout,omitempty"`
	PIDFile         string         `json:"pid_file,omitempty"`
	Log             logger.Config  `json:"log"`
}

// Validate checks the invariants a spec must satisfy before it is supervised.
func (s Spec) Validate() error {
	var errs []error
	switch name := strings.TrimSpace(s.Name); {
	case name == "":
		errs = append(errs, errors.New("name is required"))
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
		errs = append(errs, fmt.Errorf("name %q must not contain path separators", s.Name))
	}
	if strings.TrimSpace(s.Script) == "" {
		errs = append(errs, errors.New("script is required"))
	}
	if err := s.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.KillTimeout < 0 {
		errs = append(errs, fmt.Errorf("kill_timeout must be >= 0, got %s", s.KillTimeout))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidSpec, s.Name, errors.Join(errs...))
}

// Equal reports whether two specs would launch and supervise identically.
func (s Spec) Equal(o Spec) bool { return reflect.DeepEqual(s, o) }

// ResolvedInterpreter returns the binary used to run Script, or "" when the
// script is executed directly. Relative interpreter paths such as
// "./.venv/bin/python" resolve against WorkDir.
func (s Spec) ResolvedInterpreter() string {
	in := strings.TrimSpace(s.Interpreter)
	switch in {
	case InterpreterNone:
		return ""
	case "":
		return interpreters[strings.ToLower(filepath.Ext(s.Script))]
	}
	if filepath.IsAbs(in) || !strings.ContainsAny(in, `/\`) || s.WorkDir == "" {
		return in
	}
	return filepath.Join(s.WorkDir, in)
}

// BuildCommand constructs the *exec.Cmd for the entrypoint:
// "<interpreter> <script> <args...>" or "<script> <args...>".
func (s Spec) BuildCommand() *exec.Cmd {
	script := strings.TrimSpace(s.Script)
	if in := s.ResolvedInterpreter(); in != "" {
		// #nosec G204 entrypoint comes from the operator's ecosystem file
		return exec.Command(in, append([]string{script}, s.Args...)...)
	}
	// #nosec G204
	return exec.Command(s.directScript(script), s.Args...)
}

// directScript makes a relative script executable without a PATH lookup when
// it exists under WorkDir.
func (s Spec) directScript(script string) string {
	if filepath.IsAbs(script) || s.WorkDir == "" {
		return script
	}
	p := filepath.Join(s.WorkDir, script)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return script
}

// Entrypoint renders the command line for display.
func (s Spec) Entrypoint() string {
	parts := make([]string, 0, len(s.Args)+2)
	if in := s.ResolvedInterpreter(); in != "" {
		parts = append(parts, in)
	}
	parts = append(parts, s.Script)
	parts = append(parts, s.Args...)
	return strings.Join(parts, " ")
}

// EffectiveKillTimeout returns KillTimeout or the default when unset.
func (s Spec) EffectiveKillTimeout() time.Duration {
	if s.KillTimeout <= 0 {
		return DefaultKillTimeout
	}
	return s.KillTimeout
}
