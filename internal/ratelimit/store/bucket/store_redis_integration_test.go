//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"pseudonym/internal/ratelimit/store/bucket"
	"pseudonym/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	client *redis.Client
	store  *bucket.RedisBucketStore
}

func TestRedisBucketStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	container := containers.GetManager().GetRedis(s.T())
	opts, err := redis.ParseURL(container.URL)
	s.Require().NoError(err)
	s.client = redis.NewClient(opts)
	s.store = bucket.NewRedisBucketStore(s.client)
}

func (s *RedisBucketStoreSuite) TearDownSuite() {
	s.client.Close()
}

func (s *RedisBucketStoreSuite) TestAllowEnforcesLimit() {
	ctx := context.Background()
	key := "client:" + s.T().Name()
	s.Require().NoError(s.store.Reset(ctx, key))

	for i := range 3 {
		result, err := s.store.Allow(ctx, key, 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(2-i, result.Remaining)
	}

	result, err := s.store.Allow(ctx, key, 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)

	// The rejected request does not occupy a slot.
	s.Equal(int64(3), s.client.ZCard(ctx, "pseudonym:ratelimit:"+key).Val())
}

func (s *RedisBucketStoreSuite) TestResetClearsWindow() {
	ctx := context.Background()
	key := "client:" + s.T().Name()

	_, err := s.store.Allow(ctx, key, 1, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(ctx, key))

	result, err := s.store.Allow(ctx, key, 1, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}
