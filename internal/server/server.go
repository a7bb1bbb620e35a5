package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/metrics"
)

const (
	FrameworkGin  = "gin"
	FrameworkEcho = "echo"
)

// shutdownTimeout bounds graceful shutdown of the listeners.
const shutdownTimeout = 5 * time.Second

// Config selects the listener and the router front.
type Config struct {
	Listen    string
	BasePath  string
	Framework string // gin (default) or echo
	Metrics   bool
	// MetricsListen serves /metrics on its own listener; empty mounts it on Listen.
	MetricsListen string
}

// Server runs the control API and, optionally, a metrics listener.
type Server struct {
	cfg     Config
	api     *http.Server
	metrics *http.Server
}

// New builds the HTTP servers without starting them.
func New(cfg Config, mgr *manager.Manager) (*Server, error) {
	var opts []RouterOption
	if cfg.Metrics && cfg.MetricsListen == "" {
		opts = append(opts, WithMetrics())
	}
	r := NewRouter(mgr, cfg.BasePath, opts...)

	var h http.Handler
	switch cfg.Framework {
	case "", FrameworkGin:
		h = r.Handler()
	case FrameworkEcho:
		h = echoFront(r)
	default:
		return nil, fmt.Errorf("unknown server framework %q", cfg.Framework)
	}

	s := &Server{cfg: cfg, api: newHTTPServer(cfg.Listen, h)}
	if cfg.Metrics && cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metrics = newHTTPServer(cfg.MetricsListen, mux)
	}
	return s, nil
}

// echoFront mounts the gin handler inside an echo instance.
func echoFront(r *Router) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := echo.WrapHandler(r.Handler())
	base := r.BasePath()
	if base == "" {
		e.Any("/*", h)
	} else {
		e.Any(base, h)
		e.Any(base+"/*", h)
	}
	if r.metrics {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
	return e
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Handler returns the API handler, useful for tests and embedding.
func (s *Server) Handler() http.Handler { return s.api.Handler }

// Serve listens until ctx is cancelled, then shuts the listeners down.
func (s *Server) Serve(ctx context.Context) error {
	servers := []*http.Server{s.api}
	if s.metrics != nil {
		servers = append(servers, s.metrics)
	}
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			shutdown(servers)
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		slog.Info("HTTP server listening", "addr", ln.Addr().String(), "framework", s.framework())
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, ln)
	}

	select {
	case <-ctx.Done():
		return shutdown(servers)
	case err := <-errCh:
		_ = shutdown(servers)
		return err
	}
}

func (s *Server) framework() string {
	if s.cfg.Framework == "" {
		return FrameworkGin
	}
	return s.cfg.Framework
}

func shutdown(servers []*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
