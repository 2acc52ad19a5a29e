package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalHTTPMetrics *HTTPMetrics
	httpMetricsOnce   sync.Once
)

// HTTPMetrics holds HTTP request metrics.
type HTTPMetrics struct {
	requestsTotal *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec
}

// NewHTTPMetrics returns the process-wide HTTP metrics.
func NewHTTPMetrics() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		globalHTTPMetrics = &HTTPMetrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ptw_http_requests_total",
					Help: "Total HTTP requests by method, route and status",
				},
				[]string{"method", "route", "status"},
			),
			requestDur: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ptw_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
				},
				[]string{"method", "route"},
			),
		}
	})
	return globalHTTPMetrics
}

// Record observes one request. Unmatched routes are grouped as "unmatched".
func (m *HTTPMetrics) Record(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDur.WithLabelValues(method, route).Observe(d.Seconds())
}
