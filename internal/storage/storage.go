// Package storage выбирает реализацию store.Store по конфигурации процесса.
//
// Backend задаётся переменной STORE_BACKEND:
//   - "postgres" (по умолчанию) — internal/repo, DB_URL
//   - "redis" — internal/redisstore, REDIS_ADDR / REDIS_PASSWORD / REDIS_DB
//   - "memory" — store.Memory, только для одного процесса
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shaiso/Taskrunner/internal/redisstore"
	"github.com/shaiso/Taskrunner/internal/repo"
	"github.com/shaiso/Taskrunner/internal/store"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// ErrUnknownBackend — STORE_BACKEND не распознан.
var ErrUnknownBackend = errors.New("unknown store backend")

// BackendFromEnv возвращает STORE_BACKEND (по умолчанию postgres).
func BackendFromEnv() string {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if backend == "" {
		return BackendPostgres
	}
	return backend
}

// Open открывает хранилище. Возвращаемая функция освобождает соединения.
func Open(ctx context.Context, backend string, logger *slog.Logger) (store.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendPostgres:
		pool, err := repo.NewPool(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("store opened", "backend", backend)
		return repo.NewStore(pool), pool.Close, nil

	case BackendRedis:
		client := redisstore.NewClient()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("store opened", "backend", backend)
		return redisstore.New(client, os.Getenv("REDIS_PREFIX")), func() { _ = client.Close() }, nil

	case BackendMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		return store.NewMemory(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
