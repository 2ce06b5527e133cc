// Package file stores records as fixed-width lines in one append-only file.
// Record n lives at byte offset n*codec.RecordWidth, so the index kept in
// memory is just digest to offset. The file is owned by one process.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"pseudonym/internal/pseudonym/codec"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
)

// ErrRecordMismatch is returned when a value is not a record for its key.
var ErrRecordMismatch = errors.New("value is not a record for its key")

type Store struct {
	mu      sync.RWMutex
	f       *os.File
	size    int64
	offsets map[models.Digest]int64
}

// Open loads path, creating it if needed. A trailing partial line left by a
// torn append is truncated. A line whose digest cannot be read fails Open,
// since it cannot be attributed to a key.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	s := &Store{f: f, offsets: make(map[models.Digest]int64)}
	if err := s.load(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("stat record file: %w", err)
	}
	whole := info.Size() - info.Size()%int64(codec.RecordWidth)
	if whole != info.Size() {
		if err := s.f.Truncate(whole); err != nil {
			return fmt.Errorf("truncate torn record: %w", err)
		}
	}

	line := make([]byte, codec.RecordWidth)
	for offset := int64(0); offset < whole; offset += int64(codec.RecordWidth) {
		if _, err := s.f.ReadAt(line, offset); err != nil {
			return fmt.Errorf("read record at %d: %w", offset, err)
		}
		key, err := codec.DigestOf(line)
		if err != nil {
			return fmt.Errorf("record at %d: %w", offset, err)
		}
		// First line wins; a later duplicate can only come from a foreign writer.
		if _, ok := s.offsets[key]; !ok {
			s.offsets[key] = offset
		}
	}
	s.size = whole
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func (s *Store) Get(_ context.Context, key models.Digest) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offset, ok := s.offsets[key]
	if !ok {
		return nil, false, nil
	}
	line, err := s.readAt(offset)
	if err != nil {
		return nil, false, err
	}
	return line, true, nil
}

// PutIfAbsent appends value, which must be an encoded record for key, then
// fsyncs before publishing its offset.
func (s *Store) PutIfAbsent(_ context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	if len(value) != codec.RecordWidth {
		return ports.Outcome{}, fmt.Errorf("value is %d bytes, want %d: %w", len(value), codec.RecordWidth, ErrRecordMismatch)
	}
	if d, err := codec.DigestOf(value); err != nil || d != key {
		return ports.Outcome{}, ErrRecordMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if offset, ok := s.offsets[key]; ok {
		existing, err := s.readAt(offset)
		if err != nil {
			return ports.Outcome{}, err
		}
		return ports.Outcome{Existing: existing}, nil
	}

	if _, err := s.f.WriteAt(value, s.size); err != nil {
		// Drop whatever part of the line reached the file.
		_ = s.f.Truncate(s.size)
		return ports.Outcome{}, fmt.Errorf("append write: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return ports.Outcome{}, fmt.Errorf("append fsync: %w", err)
	}
	s.offsets[key] = s.size
	s.size += int64(codec.RecordWidth)
	return ports.Outcome{Stored: true}, nil
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offsets)
}

func (s *Store) readAt(offset int64) ([]byte, error) {
	line := make([]byte, codec.RecordWidth)
	if _, err := s.f.ReadAt(line, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return line, nil
}
