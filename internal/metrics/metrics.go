// Package metrics exposes Prometheus collectors for the collection pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collectorFetchesTotal           *prometheus.CounterVec
	collectorBytesTotal             *prometheus.CounterVec
	collectorJobsTotal              *prometheus.CounterVec
	collectorRetriesTotal           *prometheus.CounterVec
	collectorActiveWorkers          prometheus.Gauge
	collectorQueueDepth             prometheus.Gauge
	collectorRateLimitDelaysSeconds *prometheus.HistogramVec
	collectorPolicyViolationsTotal  *prometheus.CounterVec
	collectorCircuitBreakerTrips    prometheus.Counter
	collectorSchedulerEmittedTotal  prometheus.Counter
	collectorSchedulerDeferredTotal prometheus.Counter
	collectorSinkErrorsTotal        *prometheus.CounterVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		collectorFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetches_total",
				Help: "Total number of fetches, labeled by site, source kind and outcome.",
			},
			[]string{"site", "source_kind", "outcome"},
		)

		collectorBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		collectorJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_jobs_total",
				Help: "Total number of job state transitions, labeled by state.",
			},
			[]string{"state"},
		)

		collectorRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_retries_total",
				Help: "Total number of retries scheduled, labeled by source kind.",
			},
			[]string{"source_kind"},
		)

		collectorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		collectorQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_queue_depth",
				Help: "Number of jobs waiting in the queue.",
			},
		)

		collectorRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		collectorPolicyViolationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_policy_violations_total",
				Help: "Total number of requests refused by crawl permissions.",
			},
			[]string{"domain"},
		)

		collectorCircuitBreakerTrips = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collector_circuit_breaker_trips_total",
				Help: "Total number of watchlist entries paused after consecutive failures.",
			},
		)

		collectorSchedulerEmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collector_scheduler_emitted_total",
				Help: "Total number of jobs emitted by the scheduler.",
			},
		)

		collectorSchedulerDeferredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collector_scheduler_deferred_total",
				Help: "Total number of jobs deferred because the queue was full.",
			},
		)

		collectorSinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_sink_errors_total",
				Help: "Total number of result sink failures, labeled by sink.",
			},
			[]string{"sink"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records a fetch outcome and the bytes it returned.
func ObserveFetch(site, sourceKind, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	collectorFetchesTotal.WithLabelValues(sanitizedSite, sourceKind, outcome).Inc()
	if bytesFetched > 0 {
		collectorBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveJob increments the job counter for the given state.
func ObserveJob(state string) {
	Init()
	collectorJobsTotal.WithLabelValues(state).Inc()
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry(sourceKind string) {
	Init()
	collectorRetriesTotal.WithLabelValues(sourceKind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	collectorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	collectorActiveWorkers.Dec()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	Init()
	collectorQueueDepth.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	collectorRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePolicyViolation counts a request refused by crawl permissions.
func ObservePolicyViolation(domain string) {
	Init()
	collectorPolicyViolationsTotal.WithLabelValues(domain).Inc()
}

// ObserveCircuitBreakerTrip counts an entry paused by the circuit breaker.
func ObserveCircuitBreakerTrip() {
	Init()
	collectorCircuitBreakerTrips.Inc()
}

// ObserveSchedulerTick records how many jobs a tick emitted and deferred.
func ObserveSchedulerTick(emitted, deferred int) {
	Init()
	collectorSchedulerEmittedTotal.Add(float64(emitted))
	collectorSchedulerDeferredTotal.Add(float64(deferred))
}

// ObserveSinkError counts a failed result delivery.
func ObserveSinkError(sink string) {
	Init()
	collectorSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
