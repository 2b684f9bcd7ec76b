package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueryMetrics tracks the status and composite query endpoints.
type QueryMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	f := promauto.With(reg)
	return &QueryMetrics{
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "marketpulse",
				Subsystem: "query",
				Name:      "latency_seconds",
				Help:      "Latency of query endpoints",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"endpoint"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketpulse",
				Subsystem: "query",
				Name:      "errors_total",
				Help:      "Errors by query endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

// Observe records one call. A nil receiver is a no-op.
func (q *QueryMetrics) Observe(endpoint string, start time.Time, failed bool) {
	if q == nil {
		return
	}
	q.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if failed {
		q.errors.WithLabelValues(endpoint).Inc()
	}
}
