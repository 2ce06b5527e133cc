// Package bootstrap assembles a Population and its collaborators from
// configuration. Both the server and the CLI start here.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"pseudonym/internal/platform/config"
	"pseudonym/internal/platform/secrets"
	"pseudonym/internal/pseudonym/audit"
	"pseudonym/internal/pseudonym/derive"
	"pseudonym/internal/pseudonym/digest"
	"pseudonym/internal/pseudonym/metrics"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/internal/pseudonym/service"
	"pseudonym/internal/pseudonym/store"
	"pseudonym/internal/wordlist"
)

// Runtime is a ready Population plus what must be released on shutdown.
type Runtime struct {
	Population *service.Population
	Metrics    *metrics.Metrics

	publisher  *audit.Publisher
	kafka      *audit.KafkaPublisher
	closeStore func() error
}

// Open loads word tables, decodes the key, connects the store and the audit
// publisher, and builds the Population. reg may be nil to skip metrics.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	key, err := secrets.Decode(cfg.Population.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("PSEUDONYM_SECRET_KEY: %w", err)
	}
	tables, err := wordlist.LoadTables(cfg.Words.First, cfg.Words.Middle, cfg.Words.Last)
	if err != nil {
		return nil, err
	}
	if err := wordlist.CheckCapacity(tables, cfg.Population.Size); err != nil {
		return nil, err
	}

	rt := &Runtime{}
	bridge, closeStore, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.closeStore = closeStore

	auditor, err := rt.openAudit(ctx, cfg.Audit, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithAuditPublisher(auditor),
	}
	if reg != nil {
		rt.Metrics = metrics.New(reg)
		opts = append(opts, service.WithMetrics(rt.Metrics))
	}
	if cfg.Population.Coalesce {
		opts = append(opts, service.WithCoalescing())
	}

	pop, err := service.New(service.Config{
		Key:            key,
		Tables:         tables,
		PopulationSize: cfg.Population.Size,
		SpreadFactor:   cfg.Population.SpreadFactor,
		Reduction:      derive.Reduction(cfg.Population.Reduction),
		Algorithm:      digest.Algorithm(cfg.Population.Algorithm),
	}, bridge, opts...)
	clear(key)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Population = pop

	logger.InfoContext(ctx, "pseudonym population ready",
		"backend", cfg.Store.Backend,
		"population_size", cfg.Population.Size,
		"middle_slots", pop.MiddleSlots(),
		"audit_brokers", len(cfg.Audit.Brokers),
	)
	return rt, nil
}

// openAudit publishes to Kafka when brokers are configured and to the log
// otherwise. Kafka delivery is asynchronous and falls back to the log.
func (rt *Runtime) openAudit(ctx context.Context, cfg config.Audit, logger *slog.Logger) (ports.AuditPublisher, error) {
	logPublisher := audit.NewLogPublisher(logger)
	if len(cfg.Brokers) == 0 {
		return logPublisher, nil
	}

	kafka, err := audit.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	if err := kafka.EnsureTopic(ctx, 3, 1); err != nil {
		logger.WarnContext(ctx, "could not ensure audit topic; assuming it is provisioned",
			"topic", cfg.Topic,
			"error", err,
		)
	}
	rt.kafka = kafka
	rt.publisher = audit.NewPublisher(kafka,
		audit.WithFallback(logPublisher),
		audit.WithAsyncBuffer(1024),
		audit.WithPublisherLogger(logger),
	)
	return rt.publisher, nil
}

// Close drains the audit queue before closing the store.
func (rt *Runtime) Close() error {
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	if rt.kafka != nil {
		rt.kafka.Close()
	}
	if rt.closeStore == nil {
		return nil
	}
	return rt.closeStore()
}
