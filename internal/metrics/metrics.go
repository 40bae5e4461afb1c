// Package metrics exposes Prometheus collectors for the scraper service.
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
	scrapesTotal               *prometheus.CounterVec
	scrapeDurationSeconds      *prometheus.HistogramVec
	pollAttempts               *prometheus.HistogramVec
	detailEnrichmentsTotal     *prometheus.CounterVec
	openSessions               prometheus.Gauge
	persistFailuresTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "court_scrapes_total",
				Help: "Total number of case scrapes, labeled by outcome and cause.",
			},
			[]string{"outcome", "cause"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "court_scrape_duration_seconds",
				Help:    "Histogram of end-to-end scrape latencies, labeled by outcome.",
				Buckets: []float64{1, 5, 10, 20, 40, 60, 120, 300},
			},
			[]string{"outcome"},
		)

		pollAttempts = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "court_poll_attempts",
				Help:    "Readiness poll attempts used, labeled by table and final state.",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
			[]string{"table", "state"},
		)

		detailEnrichmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "court_detail_enrichments_total",
				Help: "Total detail page enrichments, labeled by status.",
			},
			[]string{"status"},
		)

		openSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "court_browser_sessions_open",
				Help: "Number of browser sessions currently open.",
			},
		)

		persistFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "court_persist_failures_total",
				Help: "Total non-fatal persistence failures, labeled by target.",
			},
			[]string{"target"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "court_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations before detail fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveScrape records the outcome of one FetchCaseData call.
func ObserveScrape(outcome, cause string, duration time.Duration) {
	Init()
	scrapesTotal.WithLabelValues(outcome, cause).Inc()
	scrapeDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObservePoll records how many attempts a readiness poll used.
func ObservePoll(table, state string, attempts int) {
	Init()
	pollAttempts.WithLabelValues(table, state).Observe(float64(attempts))
}

// ObserveDetail counts one detail enrichment ("ok" or "failed").
func ObserveDetail(status string) {
	Init()
	detailEnrichmentsTotal.WithLabelValues(status).Inc()
}

// IncOpenSessions increments the open sessions gauge.
func IncOpenSessions() {
	Init()
	openSessions.Inc()
}

// DecOpenSessions decrements the open sessions gauge.
func DecOpenSessions() {
	Init()
	openSessions.Dec()
}

// ObservePersistFailure counts a failed background write.
func ObservePersistFailure(target string) {
	Init()
	persistFailuresTotal.WithLabelValues(target).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
