package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS pseudonym_records (
	digest     TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
) WITHOUT ROWID;
`

// Store persists records in a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates path's directory if needed, opens the database in WAL mode
// and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer connection keeps INSERT OR IGNORE and the follow-up
	// SELECT from interleaving with other writers in this process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key models.Digest) ([]byte, bool, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM pseudonym_records WHERE digest = ?`, key.Hex(),
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get pseudonym record: %w", err)
	}
	return record, true, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pseudonym_records (digest, record) VALUES (?, ?)`, key.Hex(), value)
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("put pseudonym record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("put pseudonym record: %w", err)
	}
	if affected == 1 {
		return ports.Outcome{Stored: true}, nil
	}

	existing, found, err := s.Get(ctx, key)
	if err != nil {
		return ports.Outcome{}, err
	}
	if !found {
		return ports.Outcome{}, nil
	}
	return ports.Outcome{Existing: existing}, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pseudonym_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pseudonym records: %w", err)
	}
	return n, nil
}
