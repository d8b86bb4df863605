package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

func TestOpenBackendRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := OpenBackend(context.Background(), &Config{StoreBackend: BackendRedis, IdempotencyTTL: time.Hour}, client, logger)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, backend.Store.Ping(ctx))
	require.NoError(t, backend.Idempotency.CheckAndInsert(ctx, "k", "closings"))
	require.ErrorIs(t, backend.Idempotency.CheckAndInsert(ctx, "k", "closings"), shared.ErrConflict)
	require.NoError(t, backend.Audit.Record(ctx, shared.AuditLog{Actor: "a", Action: "create", Entity: "closing", EntityID: "1"}))

	require.NotNil(t, backend.Sweeper)
	removed, err := backend.Sweeper.Cleanup(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, removed)
	require.ErrorIs(t, backend.Idempotency.CheckAndInsert(ctx, "k", "closings"), shared.ErrConflict, "redis keys live until their TTL")
}

func TestOpenBackendRejectsUnknown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := OpenBackend(context.Background(), &Config{StoreBackend: "mongo"}, nil, logger)
	require.Error(t, err)
}
