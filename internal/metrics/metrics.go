package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Restart causes used as the "cause" label.
const (
	CauseCrash  = "crash"
	CauseWatch  = "watch"
	CauseManual = "manual"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	appStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "starts_total",
			Help:      "Number of successful app launches (initial and relaunches).",
		}, []string{"name"},
	)
	appRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "restarts_total",
			Help:      "Number of relaunches by cause (crash, watch, manual).",
		}, []string{"name", "cause"},
	)
	appExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "exits_total",
			Help:      "Number of exits by exit code, requested stops included.",
		}, []string{"name", "code"},
	)
	appErrored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "errored_total",
			Help:      "Number of times an app hit its restart ceiling.",
		}, []string{"name"},
	)
	appUptime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "uptime_seconds",
			Help:      "How long a run stayed up before it exited.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 1800, 3600, 86400},
		}, []string{"name"},
	)
	restartCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "restart_count",
			Help:      "Current value of the restart counter checked against max_restarts.",
		}, []string{"name"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appvisor",
			Subsystem: "app",
			Name:      "current_state",
			Help:      "Current state of apps (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{appStarts, appRestarts, appExits, appErrored, appUptime, restartCount, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncStart(name string) {
	if regOK.Load() {
		appStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, cause string) {
	if regOK.Load() {
		appRestarts.WithLabelValues(name, cause).Inc()
	}
}

func IncExit(name string, code int) {
	if regOK.Load() {
		appExits.WithLabelValues(name, strconv.Itoa(code)).Inc()
	}
}

func IncErrored(name string) {
	if regOK.Load() {
		appErrored.WithLabelValues(name).Inc()
	}
}

func ObserveUptime(name string, seconds float64) {
	if regOK.Load() {
		appUptime.WithLabelValues(name).Observe(seconds)
	}
}

func SetRestartCount(name string, n int) {
	if regOK.Load() {
		restartCount.WithLabelValues(name).Set(float64(n))
	}
}

// SetState marks state as the only active state of name among states.
func SetState(name, state string, states []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(name, s).Set(v)
	}
}

// Forget drops all series of an app that is no longer managed.
func Forget(name string) {
	if !regOK.Load() {
		return
	}
	l := prometheus.Labels{"name": name}
	appStarts.DeletePartialMatch(l)
	appRestarts.DeletePartialMatch(l)
	appExits.DeletePartialMatch(l)
	appErrored.DeletePartialMatch(l)
	appUptime.DeletePartialMatch(l)
	restartCount.DeletePartialMatch(l)
	currentStates.DeletePartialMatch(l)
}
