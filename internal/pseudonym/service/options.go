package service

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"pseudonym/internal/pseudonym/metrics"
	"pseudonym/internal/pseudonym/ports"
)

// Option configures a Population.
type Option func(*Population)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Population) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Population) {
		p.metrics = m
	}
}

// WithAuditPublisher emits an event for every newly stored record.
func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(p *Population) {
		p.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Population) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithCoalescing collapses concurrent in-process resolutions of the same
// digest into one bridge round trip. Racing processes still converge through
// the bridge's PutIfAbsent.
func WithCoalescing() Option {
	return func(p *Population) {
		p.coalesce = true
	}
}
