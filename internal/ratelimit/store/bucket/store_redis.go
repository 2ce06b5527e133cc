package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBucketStore shares sliding windows between replicas. Each key is a
// sorted set of request IDs scored by arrival time in microseconds.
type RedisBucketStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisBucketStore(client redis.Cmdable) *RedisBucketStore {
	return &RedisBucketStore{client: client, prefix: "pseudonym:ratelimit:", now: time.Now}
}

// Allow trims the window, counts it and adds the request in one MULTI. A
// request over the limit is removed again so it does not hold a slot.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	redisKey := s.prefix + key
	member := uuid.NewString()
	cutoff := now.Add(-window).UnixMicro()

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}

	resetAt := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.UnixMicro(int64(zs[0].Score)).Add(window)
	}

	n := int(count.Val())
	if n <= limit {
		return &Result{Allowed: true, Limit: limit, Remaining: limit - n, ResetAt: resetAt}, nil
	}
	if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return &Result{Limit: limit, ResetAt: resetAt, RetryAfter: retryAfter(now, resetAt)}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
