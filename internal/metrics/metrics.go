package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	childSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "supervisor",
			Name:      "spawns_total",
			Help:      "Number of inner processes spawned.",
		},
	)
	childReloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "supervisor",
			Name:      "reloads_total",
			Help:      "Number of reload sentinel exits observed.",
		},
	)
	childExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "supervisor",
			Name:      "exits_total",
			Help:      "Inner process exits by exit code.",
		}, []string{"code"},
	)
	buildFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "supervisor",
			Name:      "build_failures_total",
			Help:      "Number of failed build hook runs.",
		},
	)
	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "devsrv",
			Subsystem: "supervisor",
			Name:      "build_duration_seconds",
			Help:      "Duration of build hook runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	watchedFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devsrv",
			Subsystem: "watcher",
			Name:      "watched_files",
			Help:      "Number of files in the current watch snapshot.",
		},
	)
	watcherPolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "watcher",
			Name:      "polls_total",
			Help:      "Number of poll steps executed.",
		},
	)
	watcherTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "watcher",
			Name:      "transitions_total",
			Help:      "Terminal status transitions of the change watcher.",
		}, []string{"status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devsrv",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of profiled requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"},
	)
	validationViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsrv",
			Subsystem: "http",
			Name:      "validation_violations_total",
			Help:      "Response contract violations detected by the validator.",
		}, []string{"rule"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		childSpawns, childReloads, childExits, buildFailures, buildDuration,
		watchedFiles, watcherPolls, watcherTransitions,
		requestDuration, validationViolations,
		childCPUPercent, childMemoryMB, childNumThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn() {
	if regOK.Load() {
		childSpawns.Inc()
	}
}

func IncReload() {
	if regOK.Load() {
		childReloads.Inc()
	}
}

func IncExit(code int) {
	if regOK.Load() {
		childExits.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

func IncBuildFailure() {
	if regOK.Load() {
		buildFailures.Inc()
	}
}

func ObserveBuildDuration(seconds float64) {
	if regOK.Load() {
		buildDuration.Observe(seconds)
	}
}

func SetWatchedFiles(n int) {
	if regOK.Load() {
		watchedFiles.Set(float64(n))
	}
}

func IncPoll() {
	if regOK.Load() {
		watcherPolls.Inc()
	}
}

func RecordTransition(status string) {
	if regOK.Load() {
		watcherTransitions.WithLabelValues(status).Inc()
	}
}

func ObserveRequest(method string, code int, seconds float64) {
	if regOK.Load() {
		requestDuration.WithLabelValues(method, strconv.Itoa(code)).Observe(seconds)
	}
}

func IncViolation(rule string) {
	if regOK.Load() {
		validationViolations.WithLabelValues(rule).Inc()
	}
}
