package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/loykin/appvisor/internal/process"
)

// Validate checks every app and that names are unique within the file.
func (e *Ecosystem) Validate() error {
	if len(e.Apps) == 0 {
		return fmt.Errorf("%s: %w", e.Path, ErrNoApps)
	}
	var errs []error
	seen := make(map[string]int, len(e.Apps))
	for i, a := range e.Apps {
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("apps[%d]: %w", i, err))
		}
		if j, dup := seen[a.Name]; dup && a.Name != "" {
			errs = append(errs, fmt.Errorf("apps[%d]: %w %q: name already used by apps[%d]", i, ErrInvalidApp, a.Name, j))
			continue
		}
		seen[a.Name] = i
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", e.Path, errors.Join(errs...))
}

// Specs converts every app into a runtime spec.
func (e *Ecosystem) Specs() []process.Spec {
	out := make([]process.Spec, 0, len(e.Apps))
	for _, a := range e.Apps {
		out = append(out, a.Spec())
	}
	return out
}

// ConflictKind tells identical re-declarations apart from diverging ones.
type ConflictKind string

const (
	KindDuplicate ConflictKind = "duplicate"
	KindConflict  ConflictKind = "conflict"
)

// Conflict is an app name declared by more than one file.
type Conflict struct {
	Name   string       `json:"name"`
	Kind   ConflictKind `json:"kind"`
	Files  []string     `json:"files"`
	Fields []string     `json:"fields,omitempty"` // options that differ, empty for duplicates
}

func (c Conflict) String() string {
	if c.Kind == KindDuplicate {
		return fmt.Sprintf("%s %q declared identically in %s", c.Kind, c.Name, strings.Join(c.Files, ", "))
	}
	return fmt.Sprintf("%s %q: %s differ between %s", c.Kind, c.Name,
		strings.Join(c.Fields, ", "), strings.Join(c.Files, ", "))
}

// Entrypoint reports whether the declarations launch different commands.
func (c Conflict) Entrypoint() bool {
	for _, f := range c.Fields {
		switch f {
		case "script", "interpreter", "args":
			return true
		}
	}
	return false
}

// DetectConflicts reports app names declared by more than one file, in the
// order the names first appear.
func DetectConflicts(ecos ...*Ecosystem) []Conflict {
	type decl struct {
		file string
		app  App
	}
	var order []string
	byName := make(map[string][]decl)
	for _, eco := range ecos {
		for _, a := range eco.Apps {
			if _, ok := byName[a.Name]; !ok {
				order = append(order, a.Name)
			}
			byName[a.Name] = append(byName[a.Name], decl{file: eco.Path, app: a})
		}
	}

	var out []Conflict
	for _, name := range order {
		decls := byName[name]
		if len(decls) < 2 {
			continue
		}
		c := Conflict{Name: name, Kind: KindDuplicate}
		var fields []string
		for _, d := range decls {
			c.Files = append(c.Files, d.file)
			fields = mergeFields(fields, diffApps(decls[0].app, d.app))
		}
		if len(fields) > 0 {
			c.Kind, c.Fields = KindConflict, fields
		}
		out = append(out, c)
	}
	return out
}

// Merge flattens several files into one app list. The first declaration of
// a name wins. Later duplicates are dropped with a warning; diverging ones
// are an error unless allowConflicts is set.
func Merge(ecos []*Ecosystem, allowConflicts bool) ([]App, []Conflict, error) {
	conflicts := DetectConflicts(ecos...)
	var errs []error
	for _, c := range conflicts {
		if c.Kind == KindConflict && !allowConflicts {
			errs = append(errs, errors.New(c.String()))
		}
	}
	if len(errs) > 0 {
		return nil, conflicts, errors.Join(errs...)
	}
	seen := make(map[string]string)
	var apps []App
	for _, eco := range ecos {
		for _, a := range eco.Apps {
			if first, ok := seen[a.Name]; ok {
				slog.Warn("Skipping redeclared app", "app", a.Name, "file", eco.Path, "kept", first)
				continue
			}
			seen[a.Name] = eco.Path
			apps = append(apps, a)
		}
	}
	return apps, conflicts, nil
}

// diffApps lists the options whose effective values differ.
func diffApps(a, b App) []string {
	checks := []struct {
		field string
		x, y  any
	}{
		{"cwd", a.Cwd, b.Cwd},
		{"script", a.Script, b.Script},
		{"interpreter", a.Interpreter, b.Interpreter},
		{"args", a.Args, b.Args},
		{"env_file", a.EnvFile, b.EnvFile},
		{"autorestart", a.Restarts(), b.Restarts()},
		{"max_restarts", a.RestartLimit(), b.RestartLimit()},
		{"restart_delay", a.RestartDelay, b.RestartDelay},
		{"min_uptime", a.MinUptime, b.MinUptime},
		{"kill_timeout", a.KillTimeout, b.KillTimeout},
		{"watch", a.Watch, b.Watch},
		{"ignore_watch", a.IgnoreWatch, b.IgnoreWatch},
		{"log_dir", a.LogDir, b.LogDir},
		{"out_file", a.OutFile, b.OutFile},
		{"error_file", a.ErrorFile, b.ErrorFile},
		{"pid_file", a.PIDFile, b.PIDFile},
	}
	var out []string
	for _, c := range checks {
		if !equalish(c.x, c.y) {
			out = append(out, c.field)
		}
	}
	keys := mergeFields(a.envKeys(), b.envKeys())
	for _, k := range keys {
		va, oka := a.Env[k]
		vb, okb := b.Env[k]
		if va != vb || oka != okb {
			out = append(out, "env."+k)
		}
	}
	return out
}

// equalish compares like reflect.DeepEqual but treats nil and empty slices
// as equal.
func equalish(x, y any) bool {
	if xs, ok := x.([]string); ok {
		ys, _ := y.([]string)
		if len(xs) == 0 && len(ys) == 0 {
			return true
		}
	}
	if xw, ok := x.(Watch); ok {
		yw, _ := y.(Watch)
		return xw.Enabled == yw.Enabled && equalish(xw.Paths, yw.Paths)
	}
	return reflect.DeepEqual(x, y)
}

// mergeFields appends the names in add that dst does not have yet.
func mergeFields(dst, add []string) []string {
	for _, f := range add {
		if !slices.Contains(dst, f) {
			dst = append(dst, f)
		}
	}
	return dst
}
