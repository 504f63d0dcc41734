// Package metrics provides Prometheus instrumentation for the subtitle service.
//
// Both binaries (API server and extraction worker) register their metrics here
// and expose them at GET /metrics.
//
// Standard metrics exposed automatically by prometheus/client_golang:
//   - go_goroutines, go_gc_duration_seconds, etc. (Go runtime)
//   - process_cpu_seconds_total, process_open_fds, etc. (process)
//
// Service-specific metrics registered here:
//
//	subtitles_cache_hits_total           — counter: cache hits by tier
//	subtitles_cache_misses_total         — counter: full cache misses
//	subtitles_extraction_requests_total  — counter: extraction requests by endpoint
//	subtitles_extraction_success_total   — counter: successful extractions by engine
//	subtitles_extraction_failure_total   — counter: failed extractions by engine
//	subtitles_extraction_duration_secs   — histogram: extraction latency by engine
//	subtitles_webhook_deliveries_total   — counter: webhook outcomes
//	subtitles_rate_limit_total           — counter: allow/deny decisions
//	subtitles_http_requests_total        — counter: HTTP requests by method/path/status
//	subtitles_http_request_duration_secs — histogram: HTTP latency by method/path
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// CacheHits counts read-through cache hits by tier (memory, redis, postgres).
var CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_cache_hits_total",
	Help: "Cache hits by tier.",
}, []string{"tier"})

// CacheMisses counts reads that missed every tier.
var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "subtitles_cache_misses_total",
	Help: "Reads that missed all cache tiers.",
})

// ExtractionRequests counts extraction enqueue requests by endpoint path.
var ExtractionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_extraction_requests_total",
	Help: "Extraction requests by endpoint.",
}, []string{"endpoint"})

// ExtractionSuccess counts completed extractions by engine (primary, fallback).
var ExtractionSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_extraction_success_total",
	Help: "Successful extractions by engine.",
}, []string{"method"})

// ExtractionFailure counts failed extractions by engine.
var ExtractionFailure = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_extraction_failure_total",
	Help: "Failed extractions by engine.",
}, []string{"method"})

// WebhookDeliveries counts webhook delivery outcomes (delivered, failed).
var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_webhook_deliveries_total",
	Help: "Webhook delivery outcomes.",
}, []string{"outcome"})

// RateLimitDecisions counts rate limiter allow/deny decisions.
var RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_rate_limit_total",
	Help: "Rate limiter decisions.",
}, []string{"decision"})

// HTTPRequests counts HTTP requests by method, path, and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subtitles_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

// ── Histograms ────────────────────────────────────────────────────────────────

// ExtractionDuration tracks end-to-end extraction latency per engine.
var ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "subtitles_extraction_duration_seconds",
	Help:    "Extraction latency in seconds.",
	Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
}, []string{"method"})

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "subtitles_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware wraps an HTTP handler to record request counts and latency.
// Path labels are sanitized so per-video and per-job URLs don't explode
// metric cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(dur)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// sanitizePath collapses ID-bearing path segments to templates:
//
//	/api/v1/subtitles/dQw4w9WgXcQ → /api/v1/subtitles/:video_id
//	/api/v1/job/abc-123           → /api/v1/job/:job_id
func sanitizePath(p string) string {
	segs := strings.Split(p, "/")
	for i := 1; i < len(segs); i++ {
		if segs[i] == "" {
			continue
		}
		switch segs[i-1] {
		case "subtitles":
			if segs[i] != "batch" {
				segs[i] = ":video_id"
			}
		case "job":
			segs[i] = ":job_id"
		case "stats", "reset":
			segs[i] = ":ip"
		case "clear":
			segs[i] = ":video_id"
		}
	}
	return strings.Join(segs, "/")
}
