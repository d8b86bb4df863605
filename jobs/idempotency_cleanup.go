package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fechamento/internal/jobs"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// IdempotencyCleanupJob expires idempotency keys older than Retention.
type IdempotencyCleanupJob struct {
	Sweeper   shared.IdempotencySweeper
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	now       func() time.Time
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(sweeper shared.IdempotencySweeper, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Sweeper: sweeper, Retention: retention, Logger: logger, Metrics: metrics, now: time.Now}
}

// Handle deletes every key claimed before now minus Retention.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if j.Retention <= 0 {
		return fmt.Errorf("idempotency cleanup: retention must be positive: %w", asynq.SkipRetry)
	}

	now := time.Now
	if j.now != nil {
		now = j.now
	}
	cutoff := now().Add(-j.Retention)
	removed, err := j.Sweeper.Cleanup(ctx, cutoff)
	if err != nil {
		j.logger().Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("idempotency keys expired",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
