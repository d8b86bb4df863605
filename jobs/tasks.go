package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClosingAudit persists one activity log entry.
	TaskClosingAudit = "closing:audit"
	// TaskReceivableDigest summarises every store's receivables.
	TaskReceivableDigest = "receivables:digest"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

const timeLayout = time.RFC3339Nano

// AuditPayload is the queued form of a shared.AuditLog.
type AuditPayload struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       string         `json:"at,omitempty"`
}

// DigestPayload restricts the digest to a subset of stores. Empty means all.
type DigestPayload struct {
	Stores []string `json:"stores,omitempty"`
}

// NewClosingAuditTask constructs an audit task from an activity record.
func NewClosingAuditTask(log shared.AuditLog) (*asynq.Task, error) {
	if err := log.Validate(); err != nil {
		return nil, err
	}
	payload := AuditPayload{
		Actor:    log.Actor,
		Action:   log.Action,
		Entity:   log.Entity,
		EntityID: log.EntityID,
		Meta:     log.Meta,
	}
	if !log.At.IsZero() {
		payload.At = log.At.UTC().Format(timeLayout)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return asynq.NewTask(TaskClosingAudit, data), nil
}

// NewReceivableDigestTask constructs a digest task.
func NewReceivableDigestTask(stores ...string) (*asynq.Task, error) {
	data, err := json.Marshal(DigestPayload{Stores: stores})
	if err != nil {
		return nil, fmt.Errorf("marshal digest payload: %w", err)
	}
	return asynq.NewTask(TaskReceivableDigest, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task. It carries no payload.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
