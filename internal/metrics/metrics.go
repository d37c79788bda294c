// Package metrics exposes Prometheus collectors for the HTTP surface of the
// service. Load-level collectors live in the progress sinks.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxLabelLen = 64

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	reportsTotal               *prometheus.CounterVec
	reportsThrottledTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadstate_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadstate_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadstate_api_reports_total",
				Help: "Progress reports received over HTTP, labeled by phase.",
			},
			[]string{"phase"},
		)

		reportsThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loadstate_api_reports_throttled_total",
				Help: "Progress reports rejected by the per-load rate limit.",
			},
		)
	})
}

// SanitizeLabel lowercases v and replaces anything outside [a-z0-9_] so
// producer-chosen values are safe label values. Empty input yields "unknown".
func SanitizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		if b.Len() >= maxLabelLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveReport counts a progress report for phase.
func ObserveReport(phase string) {
	if reportsTotal == nil {
		return
	}
	reportsTotal.WithLabelValues(SanitizeLabel(phase)).Inc()
}

// ObserveThrottledReport counts a report rejected by the rate limiter.
func ObserveThrottledReport() {
	if reportsThrottledTotal == nil {
		return
	}
	reportsThrottledTotal.Inc()
}
