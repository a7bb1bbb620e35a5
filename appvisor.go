package appvisor

import (
	"context"
	"errors"
	"net/http"

	"github.com/loykin/appvisor/internal/config"
	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/history/factory"
	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/restart"
	"github.com/loykin/appvisor/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type State = process.State

type Policy = restart.Policy

type App = config.App

type Ecosystem = config.Ecosystem

type Conflict = config.Conflict

type HistorySink = history.Sink

type ServerConfig = server.Config

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

type Option = manager.Option

var (
	WithHistory   = manager.WithHistory
	WithGlobalEnv = manager.WithGlobalEnv
)

var ErrUnknownApp = manager.ErrUnknownApp

func New(opts ...Option) *Manager { return &Manager{inner: manager.NewManager(opts...)} }

func (m *Manager) SetGlobalEnv(kvs []string)          { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) Register(s Spec) error              { return m.inner.Register(s) }
func (m *Manager) Apply(specs []Spec) error           { return m.inner.Apply(specs) }
func (m *Manager) Start(name string) error            { return m.inner.Start(name) }
func (m *Manager) Stop(name string) error             { return m.inner.Stop(name) }
func (m *Manager) Restart(name string) error          { return m.inner.Restart(name) }
func (m *Manager) Reset(name string) error            { return m.inner.Reset(name) }
func (m *Manager) Remove(name string) error           { return m.inner.Remove(name) }
func (m *Manager) Status(name string) (Status, error) { return m.inner.Status(name) }
func (m *Manager) List() []Status                     { return m.inner.List() }
func (m *Manager) Shutdown(ctx context.Context) error { return m.inner.Shutdown(ctx) }

// LoadEcosystems loads and validates ecosystem files and merges them into
// runtime specs. Conflicting declarations fail unless allowConflicts is
// set, in which case the first file wins.
func LoadEcosystems(allowConflicts bool, paths ...string) ([]Spec, []Conflict, error) {
	ecos, err := config.LoadAll(paths...)
	if err != nil {
		return nil, nil, err
	}
	var errs []error
	for _, eco := range ecos {
		if err := eco.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	apps, conflicts, err := config.Merge(ecos, allowConflicts)
	if err != nil {
		return nil, conflicts, err
	}
	specs := make([]Spec, 0, len(apps))
	for _, a := range apps {
		specs = append(specs, a.Spec())
	}
	return specs, conflicts, nil
}

// NewHistorySink opens a history sink from a DSN (sqlite, postgres,
// clickhouse, opensearch).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Handler returns the control API as an embeddable http.Handler.
func Handler(m *Manager, basePath string) http.Handler {
	return server.NewRouter(m.inner, basePath).Handler()
}

// NewServer builds the control API server; run it with Serve.
func NewServer(cfg ServerConfig, m *Manager) (*server.Server, error) {
	return server.New(cfg, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
