//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/store/postgres"
	"pseudonym/pkg/platform/tx"
	"pseudonym/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "pseudonym_records")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	key := models.Digest{0x01, 0x02}

	_, found, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.False(found)

	outcome, err := s.store.PutIfAbsent(ctx, key, []byte("first"))
	s.Require().NoError(err)
	s.True(outcome.Stored)

	outcome, err = s.store.PutIfAbsent(ctx, key, []byte("second"))
	s.Require().NoError(err)
	s.False(outcome.Stored)
	s.Equal([]byte("first"), outcome.Existing)
}

func (s *PostgresStoreSuite) TestMigrateIsIdempotent() {
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) TestGetMany() {
	ctx := context.Background()
	a, b, missing := models.Digest{0x0a}, models.Digest{0x0b}, models.Digest{0x0c}
	_, err := s.store.PutIfAbsent(ctx, a, []byte("alpha"))
	s.Require().NoError(err)
	_, err = s.store.PutIfAbsent(ctx, b, []byte("beta"))
	s.Require().NoError(err)

	records, err := s.store.GetMany(ctx, []models.Digest{a, b, missing})
	s.Require().NoError(err)
	s.Len(records, 2)
	s.Equal([]byte("alpha"), records[a])
	s.Equal([]byte("beta"), records[b])
}

// TestConcurrentPutIfAbsent verifies that exactly one of many racing inserts
// on the same key is stored and every loser sees the winner's value.
func (s *PostgresStoreSuite) TestConcurrentPutIfAbsent() {
	ctx := context.Background()
	key := models.Digest{0xcc}
	const goroutines = 50

	var wg sync.WaitGroup
	var stored atomic.Int32
	existing := make([][]byte, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.store.PutIfAbsent(ctx, key, []byte{byte('A' + i%26)})
			s.NoError(err)
			if outcome.Stored {
				stored.Add(1)
			}
			existing[i] = outcome.Existing
		}()
	}
	wg.Wait()
	s.Require().Equal(int32(1), stored.Load())

	winner, found, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Require().True(found)
	for _, value := range existing {
		if value != nil {
			s.Equal(winner, value)
		}
	}
}

func (s *PostgresStoreSuite) TestPutIfAbsentJoinsCallerTransaction() {
	ctx := context.Background()
	key := models.Digest{0xdd}
	abort := errors.New("abort")

	err := tx.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		outcome, err := s.store.PutIfAbsent(ctx, key, []byte("rolled back"))
		s.Require().NoError(err)
		s.True(outcome.Stored)
		return abort
	})
	s.Require().ErrorIs(err, abort)

	_, found, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.False(found)
}
