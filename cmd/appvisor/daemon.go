package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/appvisor"
	"github.com/loykin/appvisor/internal/config"
	"github.com/loykin/appvisor/internal/env"
	"github.com/loykin/appvisor/internal/history/factory"
	"github.com/loykin/appvisor/internal/logger"
	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long run waits for apps to stop.
const shutdownTimeout = 30 * time.Second

func createRunCommand(global *GlobalFlags) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run [ecosystem files...]",
		Short: "Run the supervisor daemon for the declared apps",
		Long: `Load and validate the ecosystem files, start every declared app and
serve the control API until SIGINT or SIGTERM.

An app name declared by more than one file with different options is a
conflict and aborts startup unless --allow-conflicts is given, in which
case the first file wins.

Examples:
  appvisor run ecosystem.config.js
  appvisor run --config appvisor.toml
  appvisor run a.config.js b.config.js --allow-conflicts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.LoadSettings(global.ConfigPath)
			if err != nil {
				return err
			}
			f.applyTo(cmd, s)
			if err := s.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, s, args, f.AllowConflicts)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.AllowConflicts, "allow-conflicts", false, "start even if files declare the same app differently (first file wins)")
	fl.StringVar(&f.Listen, "listen", "", "API listen address (overrides settings)")
	fl.StringVar(&f.Framework, "framework", "", "API router front: gin or echo (overrides settings)")
	fl.StringVar(&f.HistoryDSN, "history", "", "history sink DSN (overrides settings)")
	fl.BoolVar(&f.Metrics, "metrics", false, "serve Prometheus metrics")
	fl.StringVar(&f.MetricsListen, "metrics-listen", "", "separate listen address for /metrics")
	fl.StringVar(&f.LogLevel, "log-level", "", "daemon log level: debug, info, warn, error")
	return cmd
}

// applyTo overrides settings with explicitly set flags.
func (f *RunFlags) applyTo(cmd *cobra.Command, s *config.Settings) {
	changed := cmd.Flags().Changed
	if changed("listen") {
		s.Server.Listen = f.Listen
	}
	if changed("framework") {
		s.Server.Framework = f.Framework
	}
	if changed("history") {
		s.History.DSN = f.HistoryDSN
	}
	if changed("metrics") {
		s.Metrics.Enabled = f.Metrics
	}
	if changed("metrics-listen") {
		s.Metrics.Listen = f.MetricsListen
	}
	if changed("log-level") {
		s.Log.Level = f.LogLevel
	}
}

// runDaemon supervises the apps declared in files until ctx is done.
func runDaemon(ctx context.Context, s *config.Settings, files []string, allowConflicts bool) error {
	log, closer, err := logger.New(s.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	if len(files) == 0 {
		files = s.Apps
	}
	if len(files) == 0 {
		return errors.New("no ecosystem files given")
	}
	specs, conflicts, err := appvisor.LoadEcosystems(allowConflicts, files...)
	for _, c := range conflicts {
		slog.Warn("App declared by several files", "app", c.Name, "kind", c.Kind, "files", c.Files, "fields", c.Fields)
	}
	if err != nil {
		return err
	}
	for i := range specs {
		specs[i].Log = specs[i].Log.WithDefaults(s.AppLogs.Logger())
	}

	globals, err := globalEnv(s)
	if err != nil {
		return err
	}
	opts := []manager.Option{manager.WithGlobalEnv(globals)}
	if s.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(s.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		opts = append(opts, manager.WithHistory(sink))
	}
	if s.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	mgr := manager.NewManager(opts...)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(sctx); err != nil {
			slog.Error("Shutdown incomplete", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Listen:        s.Server.Listen,
		BasePath:      s.Server.BasePath,
		Framework:     s.Server.Framework,
		Metrics:       s.Metrics.Enabled,
		MetricsListen: s.Metrics.Listen,
	}, mgr)
	if err != nil {
		return err
	}

	if s.PIDFile != "" {
		if err := process.WritePIDFile(s.PIDFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer process.RemovePIDFile(s.PIDFile)
	}

	slog.Info("Starting apps", "count", len(specs), "files", files)
	if err := mgr.Apply(specs); err != nil {
		// Apps that failed to launch stay under supervision and follow their restart policy.
		slog.Error("Some apps failed to start", "error", err)
	}

	err = srv.Serve(ctx)
	slog.Info("Shutting down")
	return err
}

// globalEnv collects the daemon-wide env: env_files in order, then env.
func globalEnv(s *config.Settings) ([]string, error) {
	var out []string
	for _, f := range s.EnvFiles {
		pairs, err := env.LoadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return append(out, s.Env...), nil
}
