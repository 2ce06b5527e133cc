package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcomes used as the "outcome" label.
const (
	OutcomeHit      = "hit"
	OutcomeStored   = "stored"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics holds the Prometheus collectors of the resolver.
type Metrics struct {
	Resolutions       *prometheus.CounterVec
	ResolveDurationMs prometheus.Histogram
	CorruptRecords    prometheus.Counter
	MiddleSlots       prometheus.Gauge
}

// New creates and registers the resolver metrics with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pseudonym_resolutions_total",
			Help: "Pseudonym resolutions by outcome",
		}, []string{"outcome"}),
		ResolveDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pseudonym_resolve_duration_ms",
			Help:    "Latency of pseudonym resolution in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}),
		CorruptRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "pseudonym_corrupt_records_total",
			Help: "Stored records that failed validation on read",
		}),
		MiddleSlots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pseudonym_middle_slots",
			Help: "Number of middle-tier words in use by the anti-clustering partition",
		}),
	}
}

// ObserveResolution counts one resolution outcome.
func (m *Metrics) ObserveResolution(outcome string) {
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// ObserveDuration records resolve latency in milliseconds.
func (m *Metrics) ObserveDuration(ms float64) {
	m.ResolveDurationMs.Observe(ms)
}

// IncrementCorrupt counts a corrupt stored record.
func (m *Metrics) IncrementCorrupt() {
	m.CorruptRecords.Inc()
}
