package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
)

// DefaultKeyPrefix namespaces records inside a shared Redis database.
const DefaultKeyPrefix = "pseudonym:rec:"

// Store is a Redis-backed ports.Bridge. Records never expire.
type Store struct {
	client redis.Cmdable
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New constructs a Redis-backed record store.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) key(digest models.Digest) string {
	return s.prefix + digest.Hex()
}

func (s *Store) Get(ctx context.Context, key models.Digest) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}
	return value, true, nil
}

// PutIfAbsent uses SET NX GET so the insert and the read of a competing
// value are one atomic command (Redis 7+).
func (s *Store) PutIfAbsent(ctx context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	existing, err := s.client.SetArgs(ctx, s.key(key), value, redis.SetArgs{Mode: "NX", Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return ports.Outcome{Stored: true}, nil
	}
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("put record: %w", err)
	}
	return ports.Outcome{Existing: []byte(existing)}, nil
}
