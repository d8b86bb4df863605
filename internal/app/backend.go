package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/platform/db"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
	"github.com/odyssey-erp/fechamento/internal/store/docstore"
	"github.com/odyssey-erp/fechamento/internal/store/pgstore"
)

// Store is everything the services need from persistence.
type Store interface {
	closing.Repository
	closing.ReceivableReader
	receivable.Repository
	Pinger
}

// Backend bundles the persistence pieces selected by STORE_BACKEND. Audit is
// the durable sink the worker writes activity entries to. Sweeper expires
// idempotency keys on backends without native expiry.
type Backend struct {
	Store       Store
	Idempotency shared.IdempotencyGuard
	Sweeper     shared.IdempotencySweeper
	Audit       shared.AuditRecorder
	close       func()
}

// Close releases connections held by the backend.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenBackend connects the configured store. The Redis client is shared with
// sessions and is not closed by Backend.Close.
func OpenBackend(ctx context.Context, cfg *Config, redisClient *redis.Client, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case BackendRedis:
		store := docstore.New(redisClient)
		guard := shared.NewRedisIdempotency(redisClient, cfg.IdempotencyTTL)
		logger.Info("store backend selected", slog.String("backend", BackendRedis))
		return &Backend{
			Store:       store,
			Idempotency: guard,
			Sweeper:     guard,
			Audit:       store,
		}, nil
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		guard := shared.NewIdempotencyStore(pool)
		logger.Info("store backend selected", slog.String("backend", BackendPostgres))
		return &Backend{
			Store:       pgstore.New(pool),
			Idempotency: guard,
			Sweeper:     guard,
			Audit:       shared.NewAuditLogger(pool),
			close:       pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
