package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fechamento/internal/jobs"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// ClosingAuditJob writes queued activity records to the audit log.
type ClosingAuditJob struct {
	Recorder shared.AuditRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewClosingAuditJob initialises the audit handler.
func NewClosingAuditJob(recorder shared.AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClosingAuditJob {
	return &ClosingAuditJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// Handle persists one TaskClosingAudit payload.
func (j *ClosingAuditJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Recorder == nil {
		return errors.New("closing audit: handler not configured")
	}
	tracker := j.Metrics.Track(TaskClosingAudit)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var payload AuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("closing audit: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	entry := shared.AuditLog{
		Actor:    payload.Actor,
		Action:   payload.Action,
		Entity:   payload.Entity,
		EntityID: payload.EntityID,
		Meta:     payload.Meta,
	}
	if payload.At != "" {
		at, err := time.Parse(timeLayout, payload.At)
		if err != nil {
			return fmt.Errorf("closing audit: bad timestamp %q: %w", payload.At, asynq.SkipRetry)
		}
		entry.At = at
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("closing audit: %v: %w", err, asynq.SkipRetry)
	}

	if err := j.Recorder.Record(ctx, entry); err != nil {
		j.logger().Error("audit record failed",
			slog.String("entity", entry.Entity),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err),
		)
		return err
	}
	j.Metrics.AddAudited(entry.Entity, entry.Action)
	return nil
}

func (j *ClosingAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
