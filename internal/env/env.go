package env

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

type Var map[string]string

// Env composes child environments from the daemon's OS environment, a set of
// global variables and per-app layers. It is safe for concurrent use.
type Env struct {
	mu   sync.RWMutex
	vars Var // global variables (K->V)
	base Var // snapshot of the OS environment
}

// New returns an Env whose base is the current process environment.
func New() *Env {
	e := &Env{vars: make(Var)}
	e.base = Parse(os.Environ())
	return e
}

// Empty returns an Env without an OS base.
func Empty() *Env { return &Env{vars: make(Var), base: make(Var)} }

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.mu.Lock()
	e.vars[k] = v
	e.mu.Unlock()
}

// SetPairs sets globals from "KEY=VALUE" entries, skipping malformed ones.
func (e *Env) SetPairs(kvs []string) {
	for k, v := range Parse(kvs) {
		e.Set(k, v)
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	e.mu.Lock()
	delete(e.vars, k)
	e.mu.Unlock()
}

// Merge composes the final environment:
// base OS env, then globals, then each layer in order (later layers win).
// ${VAR} references are expanded against the composed map; unknown
// references are left as written. The result is sorted by key.
func (e *Env) Merge(layers ...[]string) []string {
	e.mu.RLock()
	m := make(Var, len(e.base)+len(e.vars))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	e.mu.RUnlock()
	for _, layer := range layers {
		for k, v := range Parse(layer) {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Parse converts "KEY=VALUE" entries into a map. Entries without '=' or
// with an empty key are dropped.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Pairs converts a map into sorted "KEY=VALUE" entries.
func Pairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expand replaces ${VAR} with values from m in a single pass (no recursion).
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := m[name]; ok {
			return v
		}
		return ref
	})
}
