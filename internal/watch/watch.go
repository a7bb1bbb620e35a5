// Package watch turns filesystem changes under an app's directories into
// debounced restart triggers.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of events (editors, git checkouts).
const DefaultDebounce = 500 * time.Millisecond

// DefaultIgnore is always excluded in addition to the app's ignore_watch.
var DefaultIgnore = []string{".git", "node_modules", "__pycache__", ".venv", "*.log", "*.pyc", "*.swp", "*~"}

// Watcher watches directory trees recursively.
type Watcher struct {
	roots    []string
	ignore   []string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// New creates a watcher over roots. Ignore patterns are matched against the
// base name and against the path relative to its root; relative patterns
// like "logs" or "src/cache" therefore both work.
func New(roots, ignore []string, debounce time.Duration) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.New("watch: no paths")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		roots:    roots,
		ignore:   append(append([]string(nil), DefaultIgnore...), ignore...),
		debounce: debounce,
		fsw:      fsw,
	}
	for _, r := range roots {
		if err := w.addTree(r); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.Ignored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// Ignored reports whether path matches an ignore pattern.
func (w *Watcher) Ignored(path string) bool {
	base := filepath.Base(path)
	rel := path
	for _, r := range w.roots {
		if x, err := filepath.Rel(r, path); err == nil && !outsideRoot(x) {
			rel = filepath.ToSlash(x)
			break
		}
	}
	for _, pat := range w.ignore {
		pat = filepath.ToSlash(pat)
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pat, "/")+"/") {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if part == pat {
				return true
			}
		}
	}
	return false
}

// Run delivers one onChange call per quiet period after relevant events,
// until ctx is done. The changed path that opened the window is passed on.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	defer func() { _ = w.fsw.Close() }()
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending string
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.Ignored(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addTree(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
				pending = ev.Name
			} else {
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer, fire = nil, nil
			onChange(pending)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)
		}
	}
}

// outsideRoot reports whether a filepath.Rel result climbs above its base.
func outsideRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
