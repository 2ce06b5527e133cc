// Package store selects a persistence bridge from configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"pseudonym/internal/platform/config"
	pgplatform "pseudonym/internal/platform/postgres"
	redisplatform "pseudonym/internal/platform/redis"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/internal/pseudonym/store/blob"
	"pseudonym/internal/pseudonym/store/file"
	"pseudonym/internal/pseudonym/store/httpkv"
	"pseudonym/internal/pseudonym/store/memory"
	"pseudonym/internal/pseudonym/store/postgres"
	redisstore "pseudonym/internal/pseudonym/store/redis"
	"pseudonym/internal/pseudonym/store/sqlite"
)

// Open connects the backend named by cfg.Store.Backend. The returned close
// function releases its connections and is never nil.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.Bridge, func() error, error) {
	noop := func() error { return nil }
	if err := cfg.Validate(); err != nil {
		return nil, noop, err
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.WarnContext(ctx, "using in-memory pseudonym store; records are lost on restart")
		return memory.New(), noop, nil

	case config.BackendRedis:
		client, err := redisplatform.New(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, fmt.Errorf("open redis store: %w", err)
		}
		return redisstore.New(client.Client), client.Close, nil

	case config.BackendPostgres:
		db, err := pgplatform.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		s := postgres.New(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return s, db.Close, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil

	case config.BackendFile:
		s, err := file.Open(cfg.Store.FilePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open file store: %w", err)
		}
		logger.InfoContext(ctx, "opened pseudonym record file", "records", s.Len())
		return s, s.Close, nil

	case config.BackendHTTP:
		client, err := httpkv.New(cfg.Store.KVURL)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil

	case config.BackendBlob:
		client, err := httpkv.New(cfg.Store.KVURL)
		if err != nil {
			return nil, noop, err
		}
		return blob.New(client), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
}
