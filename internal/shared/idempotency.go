package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrIdempotencyConflict indicates the key was already used.
var ErrIdempotencyConflict = fmt.Errorf("idempotent request already processed: %w", ErrConflict)

// IdempotencyGuard claims request keys so a retried submission is not applied twice.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// IdempotencySweeper drops claimed keys older than a cutoff.
type IdempotencySweeper interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

func checkIdempotencyArgs(key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}

// IdempotencyStore persists processed keys in Postgres.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if err := checkIdempotencyArgs(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, module+":"+key, module, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return Unavailable("idempotency: insert", err)
	}
	return nil
}

// Cleanup removes keys claimed before cutoff and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, Unavailable("idempotency: cleanup", err)
	}
	return tag.RowsAffected(), nil
}

// Delete releases a key after failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if err := checkIdempotencyArgs(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, module+":"+key)
	return err
}

// RedisIdempotency claims keys with SET NX and a retention TTL.
type RedisIdempotency struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisIdempotency constructs a Redis-backed guard.
func NewRedisIdempotency(client *redis.Client, retention time.Duration) *RedisIdempotency {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisIdempotency{client: client, retention: retention}
}

// CheckAndInsert claims the key or reports a replay.
func (s *RedisIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if err := checkIdempotencyArgs(key, module); err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, redisIdempotencyKey(key, module), time.Now().UTC().Format(time.RFC3339), s.retention).Result()
	if err != nil {
		return Unavailable("idempotency: claim", err)
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a key after failed processing.
func (s *RedisIdempotency) Delete(ctx context.Context, key, module string) error {
	if err := checkIdempotencyArgs(key, module); err != nil {
		return err
	}
	return s.client.Del(ctx, redisIdempotencyKey(key, module)).Err()
}

// Cleanup is a no-op: Redis expires keys on its own once retention passes.
func (s *RedisIdempotency) Cleanup(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func redisIdempotencyKey(key, module string) string {
	return "fechamento:idempotency:" + module + ":" + key
}
