package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fechamento/internal/jobs"
	"github.com/odyssey-erp/fechamento/internal/receivable"
)

// SummarySource computes a store's receivable summary.
type SummarySource interface {
	Summary(ctx context.Context, storeID string) (receivable.Summary, error)
}

// StoreLister enumerates the configured stores.
type StoreLister interface {
	Stores() []string
}

// ReceivableGauge publishes digest buckets.
type ReceivableGauge interface {
	SetReceivablesOpen(storeID, status string, count int, amount float64)
}

// ReceivableDigestJob logs and publishes the receivable backlog of each store.
type ReceivableDigestJob struct {
	Source  SummarySource
	Stores  StoreLister
	Gauge   ReceivableGauge
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReceivableDigestJob initialises the digest handler.
func NewReceivableDigestJob(source SummarySource, stores StoreLister, gauge ReceivableGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceivableDigestJob {
	return &ReceivableDigestJob{Source: source, Stores: stores, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle runs one digest. A failing store does not stop the others; the
// first error is returned so the task is retried.
func (j *ReceivableDigestJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("receivable digest: handler not configured")
	}
	tracker := j.Metrics.Track(TaskReceivableDigest)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var payload DigestPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("receivable digest: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	stores := payload.Stores
	if len(stores) == 0 && j.Stores != nil {
		stores = j.Stores.Stores()
	}

	logger := j.logger()
	var firstErr error
	for _, storeID := range stores {
		summary, err := j.Source.Summary(ctx, storeID)
		if err != nil {
			logger.Error("receivable digest failed", slog.String("store", storeID), slog.Any("error", err))
			if firstErr == nil {
				firstErr = fmt.Errorf("receivable digest %s: %w", storeID, err)
			}
			continue
		}
		j.publish(summary)
		logger.Info("receivable digest",
			slog.String("store", storeID),
			slog.Int("pending", summary.Pending.Count),
			slog.String("pending_amount", summary.Pending.Amount.StringFixed(2)),
			slog.Int("awaiting_clearance", summary.AwaitingClearance.Count),
			slog.String("awaiting_clearance_amount", summary.AwaitingClearance.Amount.StringFixed(2)),
			slog.Int("cleared", summary.Cleared.Count),
		)
	}
	return firstErr
}

func (j *ReceivableDigestJob) publish(s receivable.Summary) {
	if j.Gauge == nil {
		return
	}
	buckets := []struct {
		status string
		bucket receivable.Bucket
	}{
		{string(receivable.FilterPending), s.Pending},
		{string(receivable.FilterAwaitingClearance), s.AwaitingClearance},
		{string(receivable.FilterCleared), s.Cleared},
	}
	for _, b := range buckets {
		amount, _ := b.bucket.Amount.Float64()
		j.Gauge.SetReceivablesOpen(s.StoreID, b.status, b.bucket.Count, amount)
	}
}

func (j *ReceivableDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
