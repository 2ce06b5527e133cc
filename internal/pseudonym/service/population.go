package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pseudonym/internal/pseudonym/codec"
	"pseudonym/internal/pseudonym/derive"
	"pseudonym/internal/pseudonym/digest"
	"pseudonym/internal/pseudonym/metrics"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/pkg/platform/sentinel"
	"pseudonym/pkg/requestcontext"
)

// Config is everything that fixes the identifier to pseudonym mapping.
// Changing any field of a live population changes the names it assigns to
// identifiers it has not seen yet; changing Key or Algorithm orphans every
// stored record.
type Config struct {
	// Key is the 32-byte secret. It is copied at construction.
	Key            []byte
	Tables         models.Tables
	PopulationSize int
	// SpreadFactor and Reduction tune index derivation; zero values select
	// derive.DefaultSpreadFactor and derive.ReductionWideMultiply.
	SpreadFactor float64
	Reduction    derive.Reduction
	Algorithm    digest.Algorithm
}

// Population resolves identifiers to persistent pseudonyms. It holds no
// mutable state of its own and is safe for concurrent use.
type Population struct {
	hasher         *digest.Hasher
	deriver        *derive.Deriver
	tables         models.Tables
	bridge         ports.Bridge
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
	tracer         trace.Tracer
	coalesce       bool
	inflight       singleflight.Group
}

// New validates cfg and binds it to a persistence bridge.
func New(cfg Config, bridge ports.Bridge, opts ...Option) (*Population, error) {
	if bridge == nil {
		return nil, fmt.Errorf("persistence bridge is required: %w", models.ErrInvalidConfiguration)
	}
	if err := cfg.Tables.Validate(); err != nil {
		return nil, err
	}
	hasher, err := digest.New(cfg.Key, digest.WithAlgorithm(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	deriver, err := derive.New(cfg.Tables.Sizes(), cfg.PopulationSize,
		derive.WithSpreadFactor(cfg.SpreadFactor),
		derive.WithReduction(cfg.Reduction),
	)
	if err != nil {
		return nil, err
	}

	p := &Population{
		hasher:  hasher,
		deriver: deriver,
		tables:  cfg.Tables,
		bridge:  bridge,
		logger:  slog.Default(),
		tracer:  otel.Tracer("pseudonym/service"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if deriver.Saturated(cfg.PopulationSize) {
		p.logger.Warn("middle word table smaller than spread population; expect more repeated middle words",
			"population_size", cfg.PopulationSize,
			"middle_words", len(cfg.Tables.Middle),
		)
	}
	if p.metrics != nil {
		p.metrics.MiddleSlots.Set(float64(deriver.MiddleSlots()))
	}
	return p, nil
}

// Digest returns the storage key of identifier.
func (p *Population) Digest(identifier []byte) models.Digest {
	return p.hasher.Sum(identifier)
}

// MiddleSlots reports the size of the middle-tier partition in use.
func (p *Population) MiddleSlots() int {
	return p.deriver.MiddleSlots()
}

// ResolveString is Resolve for string identifiers.
func (p *Population) ResolveString(ctx context.Context, identifier string) (models.Pseudonym, error) {
	return p.Resolve(ctx, []byte(identifier))
}

// Resolve returns the pseudonym of identifier, assigning and persisting one
// on first use. It fails only when the bridge fails or returns a record that
// does not decode; errors carry the digest, never the identifier.
func (p *Population) Resolve(ctx context.Context, identifier []byte) (models.Pseudonym, error) {
	start := time.Now()
	key := p.hasher.Sum(identifier)

	ctx, span := p.tracer.Start(ctx, "pseudonym.Resolve",
		trace.WithAttributes(attribute.String("pseudonym.digest", key.Short())))
	defer span.End()

	var (
		name    models.Pseudonym
		outcome string
		err     error
	)
	if p.coalesce {
		// The shared call outlives any single caller; each caller stops
		// waiting on its own cancellation.
		shared := context.WithoutCancel(ctx)
		ch := p.inflight.DoChan(key.Hex(), func() (any, error) {
			n, o, resolveErr := p.resolveDigest(shared, key)
			return resolution{name: n, outcome: o}, resolveErr
		})
		select {
		case res := <-ch:
			err = res.Err
			if r, ok := res.Val.(resolution); ok {
				name, outcome = r.name, r.outcome
			}
		case <-ctx.Done():
			err = p.backendFailure(ctx, "wait", key, ctx.Err())
		}
	} else {
		name, outcome, err = p.resolveDigest(ctx, key)
	}

	if err != nil {
		outcome = metrics.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
	}
	span.SetAttributes(attribute.String("pseudonym.outcome", outcome))
	if p.metrics != nil {
		p.metrics.ObserveResolution(outcome)
		p.metrics.ObserveDuration(float64(time.Since(start).Microseconds()) / 1000.0)
	}
	if err != nil {
		return models.Pseudonym{}, err
	}
	return name, nil
}

// ResolveMany resolves identifiers and returns their pseudonyms in input
// order. When the bridge implements ports.BatchGetter, stored records are
// read in one round trip and only the misses go through Resolve, at most
// concurrency at a time. The first failure aborts the batch.
func (p *Population) ResolveMany(ctx context.Context, identifiers [][]byte, concurrency int) ([]models.Pseudonym, error) {
	names := make([]models.Pseudonym, len(identifiers))
	keys := make([]models.Digest, len(identifiers))
	for i, identifier := range identifiers {
		keys[i] = p.hasher.Sum(identifier)
	}

	var stored map[models.Digest][]byte
	if batch, ok := p.bridge.(ports.BatchGetter); ok && len(keys) > 0 {
		var err error
		if stored, err = batch.GetMany(ctx, keys); err != nil {
			return nil, p.backendFailure(ctx, "get_many", keys[0], err)
		}
	}

	misses := make([]int, 0, len(identifiers))
	for i, key := range keys {
		raw, ok := stored[key]
		if !ok {
			misses = append(misses, i)
			continue
		}
		name, err := p.decode(ctx, key, raw)
		if err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.ObserveResolution(metrics.OutcomeHit)
		}
		names[i] = name
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for _, i := range misses {
		g.Go(func() error {
			name, err := p.Resolve(gctx, identifiers[i])
			if err != nil {
				return err
			}
			names[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

type resolution struct {
	name    models.Pseudonym
	outcome string
}

func (p *Population) resolveDigest(ctx context.Context, key models.Digest) (models.Pseudonym, string, error) {
	raw, found, err := p.bridge.Get(ctx, key)
	if err != nil {
		return models.Pseudonym{}, "", p.backendFailure(ctx, "get", key, err)
	}
	if found {
		name, err := p.decode(ctx, key, raw)
		return name, metrics.OutcomeHit, err
	}

	record := models.Record{Digest: key, Indices: p.deriver.Derive(key)}
	outcome, err := p.bridge.PutIfAbsent(ctx, key, codec.Encode(record))
	if err != nil {
		return models.Pseudonym{}, "", p.backendFailure(ctx, "put", key, err)
	}
	if outcome.Stored {
		p.emitAssignment(ctx, key)
		return p.tables.Render(record.Indices), metrics.OutcomeStored, nil
	}

	// Another writer got there first; its record is canonical.
	existing := outcome.Existing
	if len(existing) == 0 {
		existing, found, err = p.bridge.Get(ctx, key)
		if err != nil {
			return models.Pseudonym{}, "", p.backendFailure(ctx, "reread", key, err)
		}
		if !found {
			return models.Pseudonym{}, "", p.backendFailure(ctx, "reread", key,
				fmt.Errorf("put reported an existing record that cannot be read: %w", sentinel.ErrInvalidState))
		}
	}
	p.logger.DebugContext(ctx, "pseudonym assigned concurrently, using stored record",
		"digest", key.Short(),
		"request_id", requestcontext.RequestID(ctx),
	)
	name, err := p.decode(ctx, key, existing)
	return name, metrics.OutcomeConflict, err
}

// decode validates a stored line against the digest it was stored under and
// against the current word tables.
func (p *Population) decode(ctx context.Context, key models.Digest, raw []byte) (models.Pseudonym, error) {
	record, err := codec.Decode(raw)
	switch {
	case err != nil:
	case record.Digest != key:
		err = errors.New("record digest does not match its storage key")
	case !p.tables.InRange(record.Indices):
		err = errors.New("record indices outside the word tables")
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncrementCorrupt()
		}
		p.logger.ErrorContext(ctx, "stored pseudonym record is corrupt",
			"digest", key.Short(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return models.Pseudonym{}, &models.ResolveError{Op: "decode", Digest: key, Kind: models.ErrDecodeCorruption, Err: err}
	}
	return p.tables.Render(record.Indices), nil
}

func (p *Population) backendFailure(ctx context.Context, op string, key models.Digest, err error) error {
	p.logger.ErrorContext(ctx, "pseudonym backend failure",
		"op", op,
		"digest", key.Short(),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return &models.ResolveError{Op: op, Digest: key, Kind: models.ErrBackendFailure, Err: err}
}

func (p *Population) emitAssignment(ctx context.Context, key models.Digest) {
	if p.auditPublisher == nil {
		return
	}
	event := ports.AssignmentEvent{
		Digest:     key,
		AssignedAt: requestcontext.Now(ctx),
		RequestID:  requestcontext.RequestID(ctx),
	}
	// The record is already persisted; a lost audit event must not fail the resolve.
	if err := p.auditPublisher.Emit(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to emit pseudonym assignment event",
			"digest", key.Short(),
			"error", err,
		)
	}
}
