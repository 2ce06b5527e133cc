// Package ports defines the capabilities the pseudonym engine consumes.
// Implementations live under internal/pseudonym/store and are supplied by
// the host application.
package ports

import (
	"context"
	"time"

	"pseudonym/internal/pseudonym/models"
)

// Outcome reports the result of PutIfAbsent.
type Outcome struct {
	// Stored is true when this call persisted the value.
	Stored bool
	// Existing holds the value already present when Stored is false.
	Existing []byte
}

// Bridge is keyed access to persisted pseudonym records.
type Bridge interface {
	// Get looks up the record stored under exactly key. The bool is false
	// when no record exists.
	Get(ctx context.Context, key models.Digest) ([]byte, bool, error)

	// PutIfAbsent stores value under key only if no record exists yet.
	// When a record is present it is returned unchanged in Outcome.Existing.
	// Backends that only offer last-write-wins must re-read after writing
	// and report whatever value is present afterwards.
	PutIfAbsent(ctx context.Context, key models.Digest, value []byte) (Outcome, error)
}

// BatchGetter is implemented by bridges that can look up many records in
// one round trip. Keys with no record are absent from the result.
type BatchGetter interface {
	GetMany(ctx context.Context, keys []models.Digest) (map[models.Digest][]byte, error)
}

// AssignmentEvent records that a new pseudonym was persisted. It carries the
// digest only; identifiers never leave the resolver.
type AssignmentEvent struct {
	Digest     models.Digest
	AssignedAt time.Time
	RequestID  string
}

// AuditPublisher emits assignment events.
type AuditPublisher interface {
	Emit(ctx context.Context, event AssignmentEvent) error
}
