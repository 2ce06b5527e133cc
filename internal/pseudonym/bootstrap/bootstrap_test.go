package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pseudonym/internal/platform/config"
	"pseudonym/internal/platform/secrets"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeWords(t *testing.T, dir, name string, n int) string {
	t.Helper()
	letters := "abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "%s%c%c\n", name, letters[i/26%26], letters[i%26])
	}
	path := filepath.Join(dir, name+".txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	key, err := secrets.Generate()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Population.SecretKey = key
	cfg.Population.Size = 100
	cfg.Words = config.Words{
		First:  writeWords(t, dir, "walking", 200),
		Middle: writeWords(t, dir, "teal", 40),
		Last:   writeWords(t, dir, "heron", 120),
	}
	return cfg
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory backend resolves", func(t *testing.T) {
		rt, err := Open(ctx, testConfig(t), discard, prometheus.NewRegistry())
		require.NoError(t, err)
		defer rt.Close()

		name, err := rt.Population.ResolveString(ctx, "someone@example.org")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(name.First, "walking"))
		assert.True(t, strings.HasPrefix(name.Middle, "teal"))
		assert.True(t, strings.HasPrefix(name.Last, "heron"))
		assert.NotNil(t, rt.Metrics)
	})

	t.Run("sqlite backend survives reopen", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = config.BackendSQLite
		cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "records.db")

		rt, err := Open(ctx, cfg, discard, nil)
		require.NoError(t, err)
		first, err := rt.Population.ResolveString(ctx, "persisted")
		require.NoError(t, err)
		require.NoError(t, rt.Close())

		rt, err = Open(ctx, cfg, discard, nil)
		require.NoError(t, err)
		defer rt.Close()
		again, err := rt.Population.ResolveString(ctx, "persisted")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("rejects a bad key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Population.SecretKey = "abcd"
		_, err := Open(ctx, cfg, discard, nil)
		require.ErrorIs(t, err, secrets.ErrInvalidSecret)
		assert.NotContains(t, err.Error(), "abcd")
	})

	t.Run("rejects missing word lists", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Words.Middle = filepath.Join(t.TempDir(), "missing.txt")
		_, err := Open(ctx, cfg, discard, nil)
		assert.Error(t, err)
	})

	t.Run("rejects a population the tables cannot name", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Population.Size = 200 * 40 * 120 * 2
		_, err := Open(ctx, cfg, discard, nil)
		assert.Error(t, err)
	})
}
