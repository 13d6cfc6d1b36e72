// Package metrics exposes Prometheus collectors for the crawl and search paths.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_fetches_total",
			Help: "Total number of page fetch attempts, labeled by status class.",
		},
		[]string{"status"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webscout_fetch_bytes_total",
			Help: "Total number of body bytes fetched.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webscout_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	pagesIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_pages_indexed_total",
			Help: "Total number of pages written to the index, labeled by content type.",
		},
		[]string{"content_type"},
	)

	pagesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_pages_skipped_total",
			Help: "Total number of processed pages not indexed, labeled by reason.",
		},
		[]string{"reason"},
	)

	frontierTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webscout_frontier_tasks",
			Help: "Number of crawl tasks by status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webscout_active_workers",
			Help: "Number of workers currently running a fetch pipeline.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webscout_rate_limit_delay_seconds",
			Help:    "Histogram of global fetch rate limit waits.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	searchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_search_requests_total",
			Help: "Total number of search requests, labeled by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	searchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webscout_search_duration_seconds",
			Help:    "Histogram of search latencies, labeled by type.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"type"},
	)

	pageRankDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webscout_pagerank_duration_seconds",
			Help:    "Histogram of PageRank recomputation durations.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	pageRankPages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webscout_pagerank_pages",
			Help: "Number of pages scored by the last PageRank run.",
		},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass buckets an HTTP status code ("2xx", "4xx", ...). Zero means a network error.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(status int, bytesFetched int, elapsed time.Duration) {
	fetchesTotal.WithLabelValues(StatusClass(status)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
	fetchDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveIndexed records a page written to the index.
func ObserveIndexed(contentType string) {
	pagesIndexedTotal.WithLabelValues(contentType).Inc()
}

// ObserveSkip records a processed page that was not indexed.
func ObserveSkip(reason string) {
	pagesSkippedTotal.WithLabelValues(reason).Inc()
}

// SetFrontier publishes task counts by status.
func SetFrontier(counts map[string]int) {
	for status, n := range counts {
		frontierTasks.WithLabelValues(status).Set(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveSearch records one search request.
func ObserveSearch(searchType, outcome string, duration time.Duration) {
	searchRequestsTotal.WithLabelValues(searchType, outcome).Inc()
	searchDurationSeconds.WithLabelValues(searchType).Observe(duration.Seconds())
}

// ObservePageRank records a completed PageRank run.
func ObservePageRank(pages int, duration time.Duration) {
	pageRankPages.Set(float64(pages))
	pageRankDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
