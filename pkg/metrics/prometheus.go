package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"MarketPulse/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	transitions *prometheus.CounterVec
	fires       *prometheus.CounterVec
	fireLag     *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	marketOpen  *prometheus.GaugeVec
	composite   prometheus.Gauge
	activeCount prometheus.Gauge
	latency     *prometheus.HistogramVec
}

// New registers the collectors on the default registry. Call it once per process.
func New() *Recorder { return NewWithRegisterer(prometheus.DefaultRegisterer) }

func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_transitions_total",
				Help: "Committed market state transitions",
			},
			[]string{"market", "event"},
		),
		fires: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_timer_fires_total",
				Help: "Scheduled wake-ups that ran",
			},
			[]string{"market"},
		),
		fireLag: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_timer_lateness_seconds",
				Help:    "How long after its deadline a wake-up ran",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"market"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Errors by market and kind",
			},
			[]string{"market", "type"},
		),
		marketOpen: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_market_open",
				Help: "1 when the committed status of the market is OPEN",
			},
			[]string{"market"},
		),
		composite: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_composite_score",
			Help: "Last computed global composite score (0-100)",
		}),
		activeCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_active_markets",
			Help: "Control markets open in the last composite",
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTransition(market string, event models.TransitionKind) {
	r.transitions.WithLabelValues(market, string(event)).Inc()
}

// RecordFire counts a wake-up and how late it ran.
func (r *Recorder) RecordFire(market string, lateness time.Duration) {
	r.fires.WithLabelValues(market).Inc()
	if lateness < 0 {
		lateness = 0
	}
	r.fireLag.WithLabelValues(market).Observe(lateness.Seconds())
}

func (r *Recorder) RecordError(market, kind string) {
	r.errorsTotal.WithLabelValues(market, kind).Inc()
}

func (r *Recorder) RecordMarketOpen(market string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	r.marketOpen.WithLabelValues(market).Set(v)
}

func (r *Recorder) RecordComposite(score float64, active int) {
	r.composite.Set(score)
	r.activeCount.Set(float64(active))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTransition(string, models.TransitionKind) {}
func (Nop) RecordFire(string, time.Duration)               {}
func (Nop) RecordError(string, string)                     {}
func (Nop) RecordMarketOpen(string, bool)                  {}
func (Nop) RecordComposite(float64, int)                   {}
func (Nop) RecordLatency(string, float64)                  {}
