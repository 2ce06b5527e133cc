package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/pkg/platform/tx"
)

// Schema creates the record table. Records are insert-only; nothing in this
// package updates or deletes a row.
const Schema = `
CREATE TABLE IF NOT EXISTS pseudonym_records (
	digest     CHAR(64) PRIMARY KEY,
	record     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists pseudonym records in PostgreSQL.
// This store is pure I/O; validation of record contents belongs in the service.
// Queries join the caller's transaction when ctx carries one (see tx.WithTx).
type PostgresStore struct {
	db *sql.DB
}

var _ ports.BatchGetter = (*PostgresStore)(nil)

// New constructs a PostgreSQL-backed record store.
func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate pseudonym records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key models.Digest) ([]byte, bool, error) {
	var record string
	err := tx.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT record FROM pseudonym_records WHERE digest = $1`, key.Hex(),
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get pseudonym record: %w", err)
	}
	return []byte(record), true, nil
}

// PutIfAbsent inserts value and, when the digest is taken, reads the
// existing record in the same transaction.
func (s *PostgresStore) PutIfAbsent(ctx context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	query := `
		INSERT INTO pseudonym_records (digest, record)
		VALUES ($1, $2)
		ON CONFLICT (digest) DO NOTHING
	`
	var outcome ports.Outcome
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		result, err := tx.Conn(ctx, s.db).ExecContext(ctx, query, key.Hex(), string(value))
		if err != nil {
			return fmt.Errorf("put pseudonym record: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("put pseudonym record: %w", err)
		}
		if affected == 1 {
			outcome.Stored = true
			return nil
		}

		existing, found, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		// Rows are never deleted; when the re-read misses, the caller re-reads.
		if found {
			outcome.Existing = existing
		}
		return nil
	})
	if err != nil {
		return ports.Outcome{}, err
	}
	return outcome, nil
}

// GetMany returns the stored records for keys, omitting keys with no record.
func (s *PostgresStore) GetMany(ctx context.Context, keys []models.Digest) (map[models.Digest][]byte, error) {
	if len(keys) == 0 {
		return map[models.Digest][]byte{}, nil
	}
	hexKeys := make([]string, len(keys))
	for i, key := range keys {
		hexKeys[i] = key.Hex()
	}

	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT digest, record FROM pseudonym_records WHERE digest = ANY($1)`, pq.Array(hexKeys))
	if err != nil {
		return nil, fmt.Errorf("get pseudonym records: %w", err)
	}
	defer rows.Close()

	records := make(map[models.Digest][]byte, len(keys))
	for rows.Next() {
		var digestHex, record string
		if err := rows.Scan(&digestHex, &record); err != nil {
			return nil, fmt.Errorf("scan pseudonym record: %w", err)
		}
		key, err := models.ParseDigest(digestHex)
		if err != nil {
			return nil, fmt.Errorf("scan pseudonym record: %w", err)
		}
		records[key] = []byte(record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pseudonym records: %w", err)
	}
	return records, nil
}
