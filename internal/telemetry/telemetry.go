// Package telemetry exposes Prometheus metrics for the rendering service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesRenderedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagemd_pages_rendered_total",
			Help: "Total pages processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagemd_cache_lookups_total",
			Help: "Cache lookups, labeled by result (hit/miss).",
		},
		[]string{"result"},
	)

	rateLimitDenialsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemd_rate_limit_denials_total",
			Help: "Total admissions denied by the per-client quota.",
		},
	)

	inferenceCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagemd_inference_calls_total",
			Help: "Generative cleanup invocations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	sessionLaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagemd_session_launches_total",
			Help: "Browser session launch attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	sessionTeardownsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemd_session_teardowns_total",
			Help: "Browser sessions closed by the idle timer.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagemd_http_requests_total",
			Help: "Total HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagemd_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method"},
	)
)

// ObservePageRendered records the outcome of one per-URL pipeline run.
func ObservePageRendered(outcome string) {
	pagesRenderedTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// ObserveRateLimitDenial counts a denied admission.
func ObserveRateLimitDenial() {
	rateLimitDenialsTotal.Inc()
}

// ObserveInferenceCall records a cleanup invocation outcome.
func ObserveInferenceCall(outcome string) {
	inferenceCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSessionLaunch records one browser launch attempt outcome.
func ObserveSessionLaunch(outcome string) {
	sessionLaunchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSessionTeardown counts an idle-timer teardown.
func ObserveSessionTeardown() {
	sessionTeardownsTotal.Inc()
}

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
