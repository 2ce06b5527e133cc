// Package blob adapts plain get/put object stores to ports.Bridge.
//
// Records are grouped into shard objects named by the first three hex
// characters of their digest, giving 4096 shards. A shard is the
// concatenation of its fixed-width records sorted by digest, so a lookup is a
// binary search over RecordWidth strides. Object stores offer no
// compare-and-swap, so after writing a shard the store reads it back and
// trusts whatever record is present for the digest.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pseudonym/internal/pseudonym/codec"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/pkg/platform/sentinel"
)

// ShardPrefixLen is the number of digest hex characters naming a shard.
const ShardPrefixLen = 3

// ErrMalformedShard is returned when a shard is not a whole number of records.
var ErrMalformedShard = errors.New("malformed shard")

// Objects is a plain object store with last-write-wins puts.
type Objects interface {
	GetBlob(ctx context.Context, name string) ([]byte, bool, error)
	PutBlob(ctx context.Context, name string, data []byte) error
}

type Store struct {
	objects  Objects
	prefix   string
	attempts int

	// Serializes writers within this process, one lock per shard.
	locks [1 << (4 * ShardPrefixLen)]sync.Mutex
}

type Option func(*Store)

// WithShardPrefix sets the object name prefix for shards.
func WithShardPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithWriteAttempts bounds how often a write lost to a concurrent shard
// rewrite is retried.
func WithWriteAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func New(objects Objects, opts ...Option) *Store {
	s := &Store{objects: objects, prefix: "shards/", attempts: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShardName returns the object name holding key.
func (s *Store) ShardName(key models.Digest) string {
	return s.prefix + key.Hex()[:ShardPrefixLen]
}

func shardIndex(key models.Digest) int {
	return int(key[0])<<4 | int(key[1]>>4)
}

func (s *Store) Get(ctx context.Context, key models.Digest) ([]byte, bool, error) {
	shard, err := s.readShard(ctx, key)
	if err != nil {
		return nil, false, err
	}
	line, found := search(shard, key)
	return line, found, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	if len(value) != codec.RecordWidth {
		return ports.Outcome{}, fmt.Errorf("value is %d bytes, want %d: %w", len(value), codec.RecordWidth, ErrMalformedShard)
	}
	lock := &s.locks[shardIndex(key)]
	lock.Lock()
	defer lock.Unlock()

	name := s.ShardName(key)
	for range s.attempts {
		shard, err := s.readShard(ctx, key)
		if err != nil {
			return ports.Outcome{}, err
		}
		if line, found := search(shard, key); found {
			return ports.Outcome{Existing: line}, nil
		}

		if err := s.objects.PutBlob(ctx, name, insert(shard, key, value)); err != nil {
			return ports.Outcome{}, fmt.Errorf("write shard: %w", err)
		}

		// Another process may have rewritten the shard concurrently.
		after, err := s.readShard(ctx, key)
		if err != nil {
			return ports.Outcome{}, err
		}
		line, found := search(after, key)
		switch {
		case found && bytes.Equal(line, value):
			return ports.Outcome{Stored: true}, nil
		case found:
			return ports.Outcome{Existing: line}, nil
		}
	}
	return ports.Outcome{}, fmt.Errorf("shard %s kept losing concurrent writes: %w", name, sentinel.ErrConflict)
}

func (s *Store) readShard(ctx context.Context, key models.Digest) ([]byte, error) {
	shard, found, err := s.objects.GetBlob(ctx, s.ShardName(key))
	if err != nil {
		return nil, fmt.Errorf("read shard: %w", err)
	}
	if !found {
		return nil, nil
	}
	if len(shard)%codec.RecordWidth != 0 {
		return nil, fmt.Errorf("shard is %d bytes: %w", len(shard), ErrMalformedShard)
	}
	return shard, nil
}

// search finds key by binary search. The digest field sorts the same as the
// digest bytes because it is fixed-width lowercase hex.
func search(shard []byte, key models.Digest) ([]byte, bool) {
	want := []byte(key.Hex())
	n := len(shard) / codec.RecordWidth
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(digestField(shard, i), want) >= 0
	})
	if i < n && bytes.Equal(digestField(shard, i), want) {
		return bytes.Clone(record(shard, i)), true
	}
	return nil, false
}

func insert(shard []byte, key models.Digest, value []byte) []byte {
	want := []byte(key.Hex())
	n := len(shard) / codec.RecordWidth
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(digestField(shard, i), want) >= 0
	})
	at := i * codec.RecordWidth
	out := make([]byte, 0, len(shard)+codec.RecordWidth)
	out = append(out, shard[:at]...)
	out = append(out, value...)
	return append(out, shard[at:]...)
}

func record(shard []byte, i int) []byte {
	return shard[i*codec.RecordWidth : (i+1)*codec.RecordWidth]
}

func digestField(shard []byte, i int) []byte {
	return codec.DigestField(record(shard, i))
}
