package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devdash"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	scriptStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "starts_total",
			Help:      "Number of accepted script starts.",
		}, []string{"script"},
	)
	scriptSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "spawn_failures_total",
			Help:      "Number of script starts whose process could not be spawned.",
		}, []string{"script"},
	)
	scriptStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "stops_total",
			Help:      "Number of script exits, whether requested or not.",
		}, []string{"script"},
	)
	scriptKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "kills_total",
			Help:      "Number of stops escalated to SIGKILL after the grace period.",
		}, []string{"script"},
	)
	scriptURLs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "urls_detected_total",
			Help:      "Number of local URLs detected in script output.",
		},
	)
	scriptsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "running",
			Help:      "Scripts currently registered (starting, running or stopping).",
		},
	)
	scriptRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "run_duration_seconds",
			Help:      "Wall time between spawn and exit of a script.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}, []string{"script"},
	)

	batchTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "tasks_total",
			Help:      "Batch tasks by operation and result.",
		}, []string{"op", "status"},
	)
	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "task_duration_seconds",
			Help:      "Duration of one batch task for one directory.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"op"},
	)
	limiterInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "limiter",
			Name:      "in_flight",
			Help:      "Batch tasks currently holding a limiter permit.",
		},
	)
	limiterWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "limiter",
			Name:      "waiting",
			Help:      "Batch tasks waiting for a limiter permit.",
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by type.",
		}, []string{"type"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		},
	)
	eventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Currently connected event subscribers.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		scriptStarts, scriptSpawnFailures, scriptStops, scriptKills, scriptURLs, scriptsRunning, scriptRunDuration,
		batchTasks, batchDuration, limiterInFlight, limiterWaiting,
		eventsPublished, eventsDropped, eventSubscribers,
	}
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

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(script string) {
	if regOK.Load() {
		scriptStarts.WithLabelValues(script).Inc()
	}
}

func IncSpawnFailure(script string) {
	if regOK.Load() {
		scriptSpawnFailures.WithLabelValues(script).Inc()
	}
}

func IncStop(script string) {
	if regOK.Load() {
		scriptStops.WithLabelValues(script).Inc()
	}
}

func IncKill(script string) {
	if regOK.Load() {
		scriptKills.WithLabelValues(script).Inc()
	}
}

func IncURLDetected() {
	if regOK.Load() {
		scriptURLs.Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		scriptsRunning.Set(float64(n))
	}
}

func ObserveRunDuration(script string, seconds float64) {
	if regOK.Load() {
		scriptRunDuration.WithLabelValues(script).Observe(seconds)
	}
}

func RecordBatchTask(op, status string, seconds float64) {
	if regOK.Load() {
		batchTasks.WithLabelValues(op, status).Inc()
		batchDuration.WithLabelValues(op).Observe(seconds)
	}
}

func SetLimiter(inFlight, waiting int) {
	if regOK.Load() {
		limiterInFlight.Set(float64(inFlight))
		limiterWaiting.Set(float64(waiting))
	}
}

func IncEventPublished(kind string) {
	if regOK.Load() {
		eventsPublished.WithLabelValues(kind).Inc()
	}
}

func IncEventDropped() {
	if regOK.Load() {
		eventsDropped.Inc()
	}
}

func SetSubscribers(n int) {
	if regOK.Load() {
		eventSubscribers.Set(float64(n))
	}
}
