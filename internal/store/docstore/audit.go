package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

const auditStream = "audit:log"

// auditStreamMaxLen caps the stream; older entries are trimmed approximately.
const auditStreamMaxLen = 100_000

// Record appends an audit entry to the audit stream.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now()
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: auditStream,
		MaxLen: auditStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"actor":     log.Actor,
			"action":    log.Action,
			"entity":    log.Entity,
			"entity_id": log.EntityID,
			"meta":      string(meta),
			"at":        at.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return shared.Unavailable("docstore: record audit", err)
	}
	return nil
}
