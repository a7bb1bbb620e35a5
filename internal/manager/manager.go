package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/appvisor/internal/env"
	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
)

var (
	// ErrUnknownApp is returned for names the manager does not supervise.
	ErrUnknownApp = errors.New("unknown app")
	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("manager shutting down")
)

// historyTimeout bounds a single sink write.
const historyTimeout = 2 * time.Second

// Manager supervises a set of apps, one handler goroutine each.
type Manager struct {
	mu      sync.RWMutex
	env     *env.Env
	sinks   []history.Sink
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	globals []string
}

type entry struct {
	h      *handler
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistory sends lifecycle events to sinks.
func WithHistory(sinks ...history.Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sinks...) }
}

// WithEnv replaces the environment base, e.g. env.Empty() to not inherit
// the daemon's environment.
func WithEnv(e *env.Env) Option {
	return func(m *Manager) { m.env = e }
}

// WithGlobalEnv sets KEY=VALUE variables applied to every app.
func WithGlobalEnv(kvs []string) Option {
	return func(m *Manager) { m.globals = append(m.globals, kvs...) }
}

func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		env:     env.New(),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(m)
	}
	m.env.SetPairs(m.globals)
	return m
}

// SetGlobalEnv sets global environment variables for subsequent launches.
func (m *Manager) SetGlobalEnv(kvs []string) { m.env.SetPairs(kvs) }

// envFor composes a child environment: daemon env, globals, the app's env
// file, then the app's own env.
func (m *Manager) envFor(spec process.Spec) ([]string, error) {
	var layers [][]string
	if spec.EnvFile != "" {
		load := env.LoadOptionalFile
		if spec.EnvFileRequired {
			load = env.LoadFile
		}
		kvs, err := load(spec.EnvFile)
		if err != nil {
			return nil, err
		}
		layers = append(layers, kvs)
	}
	layers = append(layers, spec.Env)
	return m.env.Merge(layers...), nil
}

func (m *Manager) record(typ history.EventType, st process.Status, reason string) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Name:      st.Name,
			PID:       st.PID,
			State:     string(st.State),
			StartedAt: st.StartedAt,
			StoppedAt: st.StoppedAt,
			ExitCode:  st.ExitCode,
			ExitErr:   st.ExitErr,
			Restarts:  st.Restarts,
			Reason:    reason,
		},
	}
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := s.Send(ctx, evt); err != nil {
			slog.Warn("Failed to record history event", "app", st.Name, "event", typ, "error", err)
		}
		cancel()
	}
}

// Register adds an app, or updates the spec of a known one, without
// starting it.
func (m *Manager) Register(spec process.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	if e, ok := m.entries[spec.Name]; ok {
		m.mu.Unlock()
		return e.h.call(CtrlMsg{Type: CtrlUpdateSpec, Spec: spec})
	}
	h := newHandler(spec, m.envFor, m.record)
	ctx, cancel := context.WithCancel(m.ctx)
	m.entries[spec.Name] = &entry{h: h, cancel: cancel}
	m.mu.Unlock()

	go h.run(ctx)
	return nil
}

// Apply makes the declared set the supervised set: unknown apps are
// registered and started, changed running apps restart with the new spec,
// and apps no longer declared are stopped and removed.
func (m *Manager) Apply(specs []process.Spec) error {
	want := make(map[string]process.Spec, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := want[s.Name]; dup {
			return fmt.Errorf("app %q declared twice", s.Name)
		}
		want[s.Name] = s
	}

	for _, name := range m.Names() {
		if _, ok := want[name]; !ok {
			if err := m.Remove(name); err != nil && !errors.Is(err, ErrUnknownApp) {
				return err
			}
		}
	}

	var errs []error
	for _, s := range specs {
		h, known := m.handler(s.Name)
		changed := known && !h.proc.Spec().Equal(s)
		if err := m.Register(s); err != nil {
			return err
		}
		var err error
		switch {
		case !known:
			err = m.Start(s.Name)
		case changed && h.proc.Alive():
			err = m.restart(s.Name, metrics.CauseManual)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) handler(name string) (*handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.h, true
}

func (m *Manager) lookup(name string) (*handler, error) {
	h, ok := m.handler(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	return h, nil
}

// Start launches a stopped or errored app. Starting a running app is a no-op.
func (m *Manager) Start(name string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	return h.call(CtrlMsg{Type: CtrlStart})
}

// Stop terminates the app and cancels any pending relaunch.
func (m *Manager) Stop(name string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	return h.call(CtrlMsg{Type: CtrlStop})
}

// Restart stops and relaunches the app. It does not count against max_restarts.
func (m *Manager) Restart(name string) error { return m.restart(name, metrics.CauseManual) }

func (m *Manager) restart(name, cause string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	return h.call(CtrlMsg{Type: CtrlRestart, Cause: cause})
}

// Reset clears the restart counter and the errored state.
func (m *Manager) Reset(name string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	return h.call(CtrlMsg{Type: CtrlReset})
}

// Remove stops the app and forgets it.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok {
		delete(m.entries, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	err := e.h.call(CtrlMsg{Type: CtrlShutdown})
	e.cancel()
	metrics.Forget(name)
	if errors.Is(err, ErrShuttingDown) {
		return nil
	}
	return err
}

// Status returns the app's status including resource usage.
func (m *Manager) Status(name string) (process.Status, error) {
	h, err := m.lookup(name)
	if err != nil {
		return process.Status{}, err
	}
	return h.proc.SnapshotWithUsage(), nil
}

// Spec returns the app's current spec.
func (m *Manager) Spec(name string) (process.Spec, error) {
	h, err := m.lookup(name)
	if err != nil {
		return process.Spec{}, err
	}
	return h.proc.Spec(), nil
}

// Names lists supervised apps in name order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.entries))
	for name := range m.entries {
		out = append(out, name)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// List returns the status of every app in name order.
func (m *Manager) List() []process.Status {
	names := m.Names()
	out := make([]process.Status, 0, len(names))
	for _, n := range names {
		if st, err := m.Status(n); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Shutdown stops every app and waits for the handlers to finish or ctx to
// expire. Sinks are closed afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handlers := make([]*handler, 0, len(m.entries))
	for _, e := range m.entries {
		handlers = append(handlers, e.h)
	}
	sinks := m.sinks
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h *handler) {
			defer wg.Done()
			_ = h.call(CtrlMsg{Type: CtrlShutdown})
		}(h)
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}
	m.cancel()

	m.mu.Lock()
	m.sinks = nil
	m.mu.Unlock()
	for _, s := range sinks {
		if cerr := s.Close(); cerr != nil {
			slog.Warn("Failed to close history sink", "error", cerr)
		}
	}
	return err
}
