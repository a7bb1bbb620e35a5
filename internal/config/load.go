package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Ecosystem is one loaded ecosystem file.
type Ecosystem struct {
	Path string `json:"path" yaml:"path"`
	Apps []App  `json:"apps" yaml:"apps"`
}

// ErrNoApps is returned when a file declares no apps.
var ErrNoApps = errors.New("no apps declared")

// Load reads an ecosystem file. The format is chosen by extension: .js and
// .cjs are evaluated, .json, .yaml/.yml and .toml are decoded. Relative cwd
// values resolve against the file's directory, and an app without cwd runs
// there.
func Load(path string) (*Ecosystem, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	// #nosec G304 the operator names the file
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read ecosystem file: %w", err)
	}
	raw, err := parse(abs, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	entries, err := appEntries(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	eco := &Ecosystem{Path: abs, Apps: make([]App, 0, len(entries))}
	base := filepath.Dir(abs)
	for i, entry := range entries {
		app, unused, err := decodeApp(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: apps[%d]: %w", path, i, err)
		}
		switch {
		case app.Cwd == "":
			app.Cwd = base
		case !filepath.IsAbs(app.Cwd):
			app.Cwd = filepath.Join(base, app.Cwd)
		}
		app.Cwd = filepath.Clean(app.Cwd)
		if len(unused) > 0 {
			slog.Debug("Ignoring unsupported app options", "file", path, "app", app.Name, "keys", unused)
		}
		eco.Apps = append(eco.Apps, app)
	}
	return eco, nil
}

// LoadAll loads several files in order and stops at the first error.
func LoadAll(paths ...string) ([]*Ecosystem, error) {
	out := make([]*Ecosystem, 0, len(paths))
	for _, p := range paths {
		eco, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, eco)
	}
	return out, nil
}

func parse(path string, src []byte) (any, error) {
	var raw any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".js", ".cjs":
		return evalJS(path, src)
	case ".json":
		if err := json.Unmarshal(src, &raw); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(src, &raw); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(src, &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported ecosystem format %q", ext)
	}
	return raw, nil
}

// appEntries accepts {apps: [...]} or a bare single-app object.
func appEntries(raw any) ([]map[string]any, error) {
	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be an object, got %T", raw)
	}
	list, ok := top["apps"]
	if !ok {
		if _, named := top["name"]; named {
			return []map[string]any{top}, nil
		}
		if _, scripted := top["script"]; scripted {
			return []map[string]any{top}, nil
		}
		return nil, ErrNoApps
	}
	items, ok := list.([]any)
	if !ok {
		if m, single := list.(map[string]any); single {
			return []map[string]any{m}, nil
		}
		return nil, fmt.Errorf("apps must be a list, got %T", list)
	}
	out := make([]map[string]any, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("apps[%d] must be an object, got %T", i, it)
		}
		out = append(out, m)
	}
	return out, nil
}
