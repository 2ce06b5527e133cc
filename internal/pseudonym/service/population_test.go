package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks Bridge,AuditPublisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pseudonym/internal/pseudonym/codec"
	"pseudonym/internal/pseudonym/metrics"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/internal/pseudonym/service/mocks"
	"pseudonym/pkg/platform/sentinel"
	"pseudonym/pkg/requestcontext"
)

var (
	testKey  = []byte("0123456789abcdef0123456789abcdef")
	otherKey = []byte("fedcba9876543210fedcba9876543210")
)

const secretIdentifier = "secret-user@example.org"

// syntheticTable builds n distinct single-word entries.
func syntheticTable(prefix string, n int) models.WordTable {
	table := make(models.WordTable, n)
	for i := range table {
		table[i] = fmt.Sprintf("%s%04d", prefix, i)
	}
	return table
}

// scenarioTables mirrors a gerund-color-animal population.
func scenarioTables() models.Tables {
	return models.Tables{
		First:  syntheticTable("gerund", 4237),
		Middle: syntheticTable("color", 50),
		Last:   syntheticTable("animal", 1057),
	}
}

func scenarioConfig(key []byte) Config {
	return Config{Key: key, Tables: scenarioTables(), PopulationSize: 1000}
}

// =============================================================================
// Population Test Suite
// =============================================================================
// Justification for unit tests: the resolver's state machine (hit, miss,
// conflict, failure) is only observable through the bridge calls it makes.
// Mocked bridges pin down exactly which calls happen on every path.

type PopulationSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	bridge    *mocks.MockBridge
	publisher *mocks.MockAuditPublisher
	logs      *bytes.Buffer
	metrics   *metrics.Metrics
	pop       *Population
	ctx       context.Context
}

func TestPopulationSuite(t *testing.T) {
	suite.Run(t, new(PopulationSuite))
}

func (s *PopulationSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.bridge = mocks.NewMockBridge(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.logs = &bytes.Buffer{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-1")

	pop, err := New(scenarioConfig(testKey), s.bridge,
		WithLogger(slog.New(slog.NewTextHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.publisher),
	)
	s.Require().NoError(err)
	s.pop = pop
}

func (s *PopulationSuite) TearDownTest() {
	s.ctrl.Finish()
}

// =============================================================================
// Constructor Tests (Invariant Enforcement)
// =============================================================================

func (s *PopulationSuite) TestNew() {
	s.Run("nil bridge returns error", func() {
		_, err := New(scenarioConfig(testKey), nil)
		s.ErrorIs(err, models.ErrInvalidConfiguration)
		s.Contains(err.Error(), "persistence bridge is required")
	})

	s.Run("short key returns error", func() {
		_, err := New(scenarioConfig(testKey[:16]), s.bridge)
		s.ErrorIs(err, models.ErrInvalidConfiguration)
	})

	s.Run("empty word table returns error", func() {
		cfg := scenarioConfig(testKey)
		cfg.Tables.Last = nil
		_, err := New(cfg, s.bridge)
		s.ErrorIs(err, models.ErrInvalidConfiguration)
	})

	s.Run("non-positive population returns error", func() {
		cfg := scenarioConfig(testKey)
		cfg.PopulationSize = 0
		_, err := New(cfg, s.bridge)
		s.ErrorIs(err, models.ErrInvalidConfiguration)
	})

	s.Run("spread factor below one returns error", func() {
		cfg := scenarioConfig(testKey)
		cfg.SpreadFactor = 0.5
		_, err := New(cfg, s.bridge)
		s.ErrorIs(err, models.ErrInvalidConfiguration)
	})

	s.Run("with options applies options", func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		pop, err := New(scenarioConfig(testKey), s.bridge,
			WithLogger(logger),
			WithAuditPublisher(s.publisher),
			WithCoalescing(),
		)
		s.Require().NoError(err)
		s.Equal(logger, pop.logger)
		s.Equal(s.publisher, pop.auditPublisher)
		s.True(pop.coalesce)
		s.Equal(50, pop.MiddleSlots())
	})

	s.Run("middle slots gauge is published", func() {
		s.Equal(float64(50), testutil.ToFloat64(s.metrics.MiddleSlots))
	})
}

// =============================================================================
// Resolve Tests (State Machine)
// =============================================================================

func (s *PopulationSuite) TestResolveMissStoresRecord() {
	key := s.pop.Digest([]byte(secretIdentifier))
	var stored []byte

	gomock.InOrder(
		s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil),
		s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ models.Digest, value []byte) (ports.Outcome, error) {
				stored = value
				return ports.Outcome{Stored: true}, nil
			}),
	)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event ports.AssignmentEvent) error {
			s.Equal(key, event.Digest)
			s.Equal("req-1", event.RequestID)
			return nil
		})

	name, err := s.pop.ResolveString(s.ctx, secretIdentifier)
	s.Require().NoError(err)

	s.Require().Len(stored, codec.RecordWidth)
	record, err := codec.Decode(stored)
	s.Require().NoError(err)
	s.Equal(key, record.Digest)
	s.Equal(scenarioTables().Render(record.Indices), name)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Resolutions.WithLabelValues(metrics.OutcomeStored)))
}

func (s *PopulationSuite) TestResolveHitDoesNotWrite() {
	key := s.pop.Digest([]byte(secretIdentifier))
	record := models.Record{Digest: key, Indices: models.Indices{First: 7, Middle: 3, Last: 11}}
	s.bridge.EXPECT().Get(gomock.Any(), key).Return(codec.Encode(record), true, nil)

	name, err := s.pop.ResolveString(s.ctx, secretIdentifier)
	s.Require().NoError(err)
	s.Equal("gerund0007-color0003-animal0011", name.String())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Resolutions.WithLabelValues(metrics.OutcomeHit)))
}

func (s *PopulationSuite) TestResolveConflictReturnsExistingRecord() {
	key := s.pop.Digest([]byte(secretIdentifier))
	winner := models.Record{Digest: key, Indices: models.Indices{First: 1, Middle: 2, Last: 3}}

	s.Run("existing value in outcome", func() {
		s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil)
		s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).
			Return(ports.Outcome{Existing: codec.Encode(winner)}, nil)

		name, err := s.pop.ResolveString(s.ctx, secretIdentifier)
		s.Require().NoError(err)
		s.Equal("gerund0001-color0002-animal0003", name.String())
	})

	s.Run("existing value re-read", func() {
		gomock.InOrder(
			s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil),
			s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).Return(ports.Outcome{}, nil),
			s.bridge.EXPECT().Get(gomock.Any(), key).Return(codec.Encode(winner), true, nil),
		)

		name, err := s.pop.ResolveString(s.ctx, secretIdentifier)
		s.Require().NoError(err)
		s.Equal("gerund0001-color0002-animal0003", name.String())
	})

	s.Run("existing value vanished", func() {
		gomock.InOrder(
			s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil),
			s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).Return(ports.Outcome{}, nil),
			s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil),
		)

		_, err := s.pop.ResolveString(s.ctx, secretIdentifier)
		s.ErrorIs(err, models.ErrBackendFailure)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Equal(float64(2), testutil.ToFloat64(s.metrics.Resolutions.WithLabelValues(metrics.OutcomeConflict)))
}

func (s *PopulationSuite) TestResolveBackendFailures() {
	key := s.pop.Digest([]byte(secretIdentifier))

	s.Run("get failure propagates", func() {
		s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, fmt.Errorf("dial: %w", sentinel.ErrUnavailable))

		_, err := s.pop.ResolveString(s.ctx, secretIdentifier)
		s.ErrorIs(err, models.ErrBackendFailure)
		s.ErrorIs(err, sentinel.ErrUnavailable)

		var resolveErr *models.ResolveError
		s.Require().True(errors.As(err, &resolveErr))
		s.Equal("get", resolveErr.Op)
		s.Equal(key, resolveErr.Digest)
	})

	s.Run("put failure propagates without audit", func() {
		s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil)
		s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).Return(ports.Outcome{}, errors.New("connection reset"))

		_, err := s.pop.ResolveString(s.ctx, secretIdentifier)
		s.ErrorIs(err, models.ErrBackendFailure)
		s.Contains(err.Error(), "connection reset")
	})

	s.Run("errors and logs never contain the identifier or key", func() {
		s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, errors.New("timeout"))

		_, err := s.pop.ResolveString(s.ctx, secretIdentifier)
		s.Require().Error(err)
		s.NotContains(err.Error(), secretIdentifier)
		s.NotContains(s.logs.String(), secretIdentifier)
		s.NotContains(s.logs.String(), string(testKey))
		s.Contains(s.logs.String(), key.Short())
	})

	s.Equal(float64(3), testutil.ToFloat64(s.metrics.Resolutions.WithLabelValues(metrics.OutcomeError)))
}

func (s *PopulationSuite) TestResolveCorruptRecordIsSurfaced() {
	key := s.pop.Digest([]byte(secretIdentifier))
	var foreign models.Digest
	foreign[0] = 0xee

	tests := []struct {
		name string
		raw  []byte
	}{
		{"wrong width", []byte("p1 deadbeef\n")},
		{"garbage of the right width", bytes.Repeat([]byte{'x'}, codec.RecordWidth)},
		{"digest mismatch", codec.Encode(models.Record{Digest: foreign})},
		{"index beyond table", codec.Encode(models.Record{Digest: key, Indices: models.Indices{Middle: 50}})},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			// No PutIfAbsent expectation: corruption must never be overwritten.
			s.bridge.EXPECT().Get(gomock.Any(), key).Return(tt.raw, true, nil)

			_, err := s.pop.ResolveString(s.ctx, secretIdentifier)
			s.ErrorIs(err, models.ErrDecodeCorruption)
			s.False(errors.Is(err, models.ErrBackendFailure))
		})
	}
	s.Equal(float64(len(tests)), testutil.ToFloat64(s.metrics.CorruptRecords))
}

func (s *PopulationSuite) TestAuditFailureDoesNotFailResolve() {
	key := s.pop.Digest([]byte(secretIdentifier))
	s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil)
	s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).Return(ports.Outcome{Stored: true}, nil)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	name, err := s.pop.ResolveString(s.ctx, secretIdentifier)
	s.Require().NoError(err)
	s.False(name.IsZero())
	s.Contains(s.logs.String(), "failed to emit pseudonym assignment event")
}

func (s *PopulationSuite) TestAssignedAtUsesRequestTime() {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, fixed)
	key := s.pop.Digest([]byte(secretIdentifier))

	s.bridge.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil)
	s.bridge.EXPECT().PutIfAbsent(gomock.Any(), key, gomock.Any()).Return(ports.Outcome{Stored: true}, nil)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event ports.AssignmentEvent) error {
			s.Equal(fixed, event.AssignedAt)
			return nil
		})

	_, err := s.pop.ResolveString(ctx, secretIdentifier)
	s.Require().NoError(err)
}
