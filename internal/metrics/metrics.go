// Package metrics exposes Prometheus collectors for the boundary sync
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncRunsTotal              *prometheus.CounterVec
	syncBoundariesTotal        *prometheus.CounterVec
	syncFetchFailuresTotal     *prometheus.CounterVec
	syncRunInProgress          prometheus.Gauge
	syncForcesRemaining        prometheus.Gauge
	cacheRequestsTotal         *prometheus.CounterVec
	lookupsTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beatcal_sync_runs_total",
				Help: "Total number of finished sync runs, labeled by scope and status.",
			},
			[]string{"scope", "status"},
		)

		syncBoundariesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beatcal_sync_boundaries_total",
				Help: "Total boundary sync outcomes, labeled by result (synced, failed, no_boundary).",
			},
			[]string{"result"},
		)

		syncFetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beatcal_sync_fetch_failures_total",
				Help: "Total terminal upstream fetch failures, labeled by error class.",
			},
			[]string{"class"},
		)

		syncRunInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "beatcal_sync_run_in_progress",
				Help: "1 while a sync run is active, 0 otherwise.",
			},
		)

		syncForcesRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "beatcal_sync_forces_remaining",
				Help: "Forces not yet finished in the active sync run.",
			},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beatcal_cache_requests_total",
				Help: "Cache lookups, labeled by cache name and outcome (hit, miss).",
			},
			[]string{"cache", "outcome"},
		)

		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beatcal_lookups_total",
				Help: "Postcode lookups, labeled by outcome (found, not_covered, error).",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a finished sync run.
func ObserveRun(scope, status string) {
	syncRunsTotal.WithLabelValues(scope, status).Inc()
}

// ObserveBoundary records one neighbourhood sync outcome.
func ObserveBoundary(result string) {
	syncBoundariesTotal.WithLabelValues(result).Inc()
}

// ObserveFetchFailure records a terminal upstream fetch failure.
func ObserveFetchFailure(class string) {
	syncFetchFailuresTotal.WithLabelValues(class).Inc()
}

// SetRunInProgress flips the active-run gauge.
func SetRunInProgress(active bool) {
	if active {
		syncRunInProgress.Set(1)
		return
	}
	syncRunInProgress.Set(0)
}

// SetForcesRemaining updates the remaining-forces gauge.
func SetForcesRemaining(n int) {
	syncForcesRemaining.Set(float64(n))
}

// ObserveCache records a cache lookup outcome.
func ObserveCache(cache string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheRequestsTotal.WithLabelValues(cache, outcome).Inc()
}

// ObserveLookup records a postcode lookup outcome.
func ObserveLookup(outcome string) {
	lookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
