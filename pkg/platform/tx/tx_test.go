package tx

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE items (name TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestConnWithoutTransactionUsesDB(t *testing.T) {
	db := openDB(t)
	assert.Same(t, db, Conn(context.Background(), db))

	_, ok := From(context.Background())
	assert.False(t, ok)
	assert.Equal(t, context.Background(), WithTx(context.Background(), nil))
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db := openDB(t)
		err := Run(ctx, db, func(ctx context.Context) error {
			_, ok := From(ctx)
			require.True(t, ok)
			_, err := Conn(ctx, db).ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db := openDB(t)
		boom := errors.New("boom")
		err := Run(ctx, db, func(ctx context.Context) error {
			if _, err := Conn(ctx, db).ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, count(t, db))
	})
	t.Run("nested run joins the outer transaction", func(t *testing.T) {
		db := openDB(t)
		boom := errors.New("boom")
		err := Run(ctx, db, func(outer context.Context) error {
			outerTx, _ := From(outer)
			err := Run(outer, db, func(inner context.Context) error {
				innerTx, _ := From(inner)
				assert.Same(t, outerTx, innerTx)
				_, err := Conn(inner, db).ExecContext(inner, `INSERT INTO items (name) VALUES ('a')`)
				return err
			})
			require.NoError(t, err)
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, count(t, db))
	})
}
