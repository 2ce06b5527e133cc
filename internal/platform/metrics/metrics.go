package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level HTTP metrics.
type Metrics struct {
	RequestDurationMs *prometheus.HistogramVec
}

// New registers the HTTP metrics with reg, or the default registerer if nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pseudonym_http_request_duration_ms",
			Help:    "HTTP request latency in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.RequestDurationMs.WithLabelValues(method, route, status).Observe(float64(d.Microseconds()) / 1000.0)
}
