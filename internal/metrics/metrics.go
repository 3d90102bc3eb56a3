// Package metrics exposes Prometheus collectors for the capture service.
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
	fetchRequestsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	fallbackTotal              *prometheus.CounterVec
	storeWritesTotal           *prometheus.CounterVec
	exportsTotal               *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_fetch_requests_total",
				Help: "Outbound requests, labeled by host and outcome (ok or failure kind).",
			},
			[]string{"host", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_fetch_retries_total",
				Help: "Retries of transient fetch failures, labeled by host.",
			},
			[]string{"host"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scholar_rate_limit_delays_seconds",
				Help:    "Histogram of per-host pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 4, 6, 10},
			},
			[]string{"host"},
		)

		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_captures_total",
				Help: "Captures processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scholar_capture_duration_seconds",
				Help:    "End-to-end capture latency, labeled by source.",
				Buckets: []float64{1, 5, 10, 20, 40, 60, 90, 120, 180},
			},
			[]string{"source"},
		)

		fallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_scholar_fallback_total",
				Help: "Paid-API fallback invocations, labeled by trigger and result.",
			},
			[]string{"trigger", "result"},
		)

		storeWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_store_writes_total",
				Help: "Record store writes, labeled by result.",
			},
			[]string{"result"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_exports_total",
				Help: "Export artifacts built, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scholar_active_workers",
				Help: "Number of workers currently processing a capture.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scholar_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost reduces a URL to a lowercase host[:port] label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one outbound request attempt.
func ObserveFetch(host, outcome string, bytesFetched int) {
	Init()
	h := SanitizeHost(host)
	fetchRequestsTotal.WithLabelValues(h, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(h).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts a retry of a transient failure.
func ObserveRetry(host string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeHost(host)).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// ObserveCapture counts a finished capture and its latency.
func ObserveCapture(source, outcome string, duration time.Duration) {
	Init()
	capturesTotal.WithLabelValues(source, outcome).Inc()
	captureDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveFallback counts a paid-API fallback call.
func ObserveFallback(trigger, result string) {
	Init()
	fallbackTotal.WithLabelValues(trigger, result).Inc()
}

// ObserveStoreWrite counts a record store write.
func ObserveStoreWrite(result string) {
	Init()
	storeWritesTotal.WithLabelValues(result).Inc()
}

// ObserveExport counts an export build.
func ObserveExport(result string) {
	Init()
	exportsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
