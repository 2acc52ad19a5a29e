package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Save results recorded on SavesTotal.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds Prometheus metrics for the tracker.
type Metrics struct {
	WhispersTotal prometheus.Counter
	SweepsTotal   prometheus.Counter
	ExpiredTotal  prometheus.Counter

	SavesTotal   *prometheus.CounterVec
	SaveDuration prometheus.Histogram

	TrackedItems prometheus.Gauge
	ActiveItems  prometheus.Gauge

	BridgeRequestsTotal *prometheus.CounterVec
}

// New returns the process-wide tracker metrics, registering them on first use.
//
// Metrics:
//   - ptw_whispers_total - Whisper clicks on tracked items
//   - ptw_sweeps_total - Expiry sweeps run
//   - ptw_expired_total - Items reset by sweeps
//   - ptw_saves_total{result} - Snapshot writes by result
//   - ptw_save_duration_seconds - Snapshot write latency
//   - ptw_tracked_items - Items in the registry
//   - ptw_active_items - Items with a nonzero whisper count
//   - ptw_bridge_requests_total{type,result} - Bridge requests served
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WhispersTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ptw_whispers_total",
				Help: "Total number of whisper clicks on tracked items",
			}),
			SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ptw_sweeps_total",
				Help: "Total number of expiry sweeps",
			}),
			ExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ptw_expired_total",
				Help: "Total number of items reset by expiry sweeps",
			}),
			SavesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ptw_saves_total",
					Help: "Total number of snapshot writes",
				},
				[]string{"result"}, // "ok" or "error"
			),
			SaveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "ptw_save_duration_seconds",
				Help:    "Duration of snapshot writes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}),
			TrackedItems: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ptw_tracked_items",
				Help: "Number of items in the registry",
			}),
			ActiveItems: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ptw_active_items",
				Help: "Number of items with a nonzero whisper count",
			}),
			BridgeRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ptw_bridge_requests_total",
					Help: "Total number of bridge requests served",
				},
				[]string{"type", "result"},
			),
		}
	})
	return globalMetrics
}
