package memory

import (
	"bytes"
	"context"
	"sync"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
)

// InMemoryStore keeps records in a map guarded by a RWMutex. It is the
// reference implementation of ports.Bridge for tests and single-process use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[models.Digest][]byte
}

var _ ports.BatchGetter = (*InMemoryStore)(nil)

func New() *InMemoryStore {
	return &InMemoryStore{records: make(map[models.Digest][]byte)}
}

func (s *InMemoryStore) Get(_ context.Context, key models.Digest) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, ok := s.records[key]; ok {
		return bytes.Clone(value), true, nil
	}
	return nil, false, nil
}

// PutIfAbsent stores value unless key is taken; the check and the write
// happen under one lock.
func (s *InMemoryStore) PutIfAbsent(_ context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		return ports.Outcome{Existing: bytes.Clone(existing)}, nil
	}
	s.records[key] = bytes.Clone(value)
	return ports.Outcome{Stored: true}, nil
}

// GetMany returns copies of the records stored under keys.
func (s *InMemoryStore) GetMany(_ context.Context, keys []models.Digest) (map[models.Digest][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make(map[models.Digest][]byte, len(keys))
	for _, key := range keys {
		if value, ok := s.records[key]; ok {
			records[key] = bytes.Clone(value)
		}
	}
	return records, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Overwrite replaces a record unconditionally. Tests use it to simulate
// corruption and last-write-wins backends.
func (s *InMemoryStore) Overwrite(key models.Digest, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = bytes.Clone(value)
}
