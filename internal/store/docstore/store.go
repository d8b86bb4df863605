// Package docstore persists closings and receivables as JSON documents in Redis.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// Store implements closing.Repository and receivable.Repository on Redis.
type Store struct {
	client *redis.Client
	newID  func() string
}

// New wraps a Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client, newID: uuid.NewString}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return shared.Unavailable("docstore: ping", err)
	}
	return nil
}

func closingKey(id string) string { return "closing:" + id }

func ownerDateKey(owner string, date time.Time) string {
	return "closing:owner:" + owner + ":" + closing.FormatDate(date)
}

func storeClosingsKey(storeID string) string { return "closings:store:" + storeID }

func ownerClosingsKey(owner string) string { return "closings:owner:" + owner }

func receivableKey(id string) string { return "receivable:" + id }

func storeReceivablesKey(storeID string) string { return "receivables:store:" + storeID }

func dateScore(d time.Time) float64 {
	return float64(d.Year()*10000 + int(d.Month())*100 + d.Day())
}

// ClosingExists reports whether owner already has a closing for date.
func (s *Store) ClosingExists(ctx context.Context, ownerID string, date time.Time) (bool, error) {
	n, err := s.client.Exists(ctx, ownerDateKey(ownerID, date)).Result()
	if err != nil {
		return false, shared.Unavailable("docstore: closing exists", err)
	}
	return n > 0, nil
}

// CreateClosing writes the closing, its new receivables and the collected
// receivables in one MULTI block. The owner/date guard key and every collected
// receivable are watched, so a concurrent writer aborts the transaction.
func (s *Store) CreateClosing(ctx context.Context, bundle closing.CreateBundle) (closing.Closing, error) {
	c := bundle.Closing
	c.ID = s.newID()
	guard := ownerDateKey(c.OwnerID, c.Date)

	watched := []string{guard}
	for _, col := range bundle.Collections {
		watched = append(watched, receivableKey(col.ReceivableID))
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, guard).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return closing.ErrDuplicateClosing
		}

		writes := make([]receivable.Receivable, 0, len(bundle.Collections)+len(bundle.NewReceivables))
		for _, col := range bundle.Collections {
			r, err := loadReceivable(ctx, tx, col.ReceivableID)
			if err != nil {
				return err
			}
			if err := r.Collect(col.Amount, col.At, c.ID); err != nil {
				return err
			}
			writes = append(writes, r)
		}
		c.Items.NewReceivables = append([]closing.NewReceivable(nil), c.Items.NewReceivables...)
		for i, r := range bundle.NewReceivables {
			r.ID = s.newID()
			r.OriginClosingID = c.ID
			r.CreatedAt = c.CreatedAt
			if i < len(c.Items.NewReceivables) {
				c.Items.NewReceivables[i].ReceivableID = r.ID
			}
			writes = append(writes, r)
		}

		closingJSON, err := json.Marshal(toClosingDoc(c))
		if err != nil {
			return err
		}
		receivableJSON := make([][]byte, len(writes))
		for i, r := range writes {
			if receivableJSON[i], err = json.Marshal(toReceivableDoc(r)); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			score := dateScore(c.Date)
			pipe.Set(ctx, guard, c.ID, 0)
			pipe.Set(ctx, closingKey(c.ID), closingJSON, 0)
			pipe.ZAdd(ctx, storeClosingsKey(c.StoreID), redis.Z{Score: score, Member: c.ID})
			pipe.ZAdd(ctx, ownerClosingsKey(c.OwnerID), redis.Z{Score: score, Member: c.ID})
			for i, r := range writes {
				pipe.Set(ctx, receivableKey(r.ID), receivableJSON[i], 0)
				pipe.SAdd(ctx, storeReceivablesKey(r.StoreID), r.ID)
			}
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, watched...); err != nil {
		return closing.Closing{}, translate("docstore: create closing", err)
	}
	return c, nil
}

// FindClosing loads a closing by id.
func (s *Store) FindClosing(ctx context.Context, id string) (closing.Closing, error) {
	c, err := loadClosing(ctx, s.client, id)
	if err != nil {
		return closing.Closing{}, translate("docstore: find closing", err)
	}
	return c, nil
}

// FindClosingByOwnerDate loads the owner's closing for date.
func (s *Store) FindClosingByOwnerDate(ctx context.Context, ownerID string, date time.Time) (closing.Closing, error) {
	id, err := s.client.Get(ctx, ownerDateKey(ownerID, date)).Result()
	if errors.Is(err, redis.Nil) {
		return closing.Closing{}, closing.ErrNotFound
	}
	if err != nil {
		return closing.Closing{}, shared.Unavailable("docstore: find closing by date", err)
	}
	return s.FindClosing(ctx, id)
}

// UpdateClosing rewrites the editable movements while the closing is watched.
func (s *Store) UpdateClosing(ctx context.Context, p closing.UpdateParams) (closing.Closing, error) {
	key := closingKey(p.ID)
	var updated closing.Closing
	txf := func(tx *redis.Tx) error {
		c, err := loadClosing(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if c.OwnerID != p.OwnerID || !c.Date.After(p.EditableAfter) {
			return closing.ErrNotEditable
		}
		c.OperatorName = p.OperatorName
		c.Items.Entrances = p.Entrances
		c.Items.FixedExits = p.FixedExits
		c.Items.VariableExits = p.VariableExits
		c.Totals = p.Totals
		c.UpdatedAt = p.UpdatedAt
		raw, err := json.Marshal(toClosingDoc(c))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		updated = c
		return err
	}
	if err := s.client.Watch(ctx, txf, key); err != nil {
		return closing.Closing{}, translate("docstore: update closing", err)
	}
	return updated, nil
}

// ListClosingsByOwner pages through an owner's closings, newest first.
func (s *Store) ListClosingsByOwner(ctx context.Context, ownerID string, f closing.HistoryFilter) ([]closing.Closing, int, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Offset: int64(f.Offset), Count: int64(f.Limit)}
	if !f.From.IsZero() {
		rng.Min = strconv.FormatFloat(dateScore(f.From), 'f', 0, 64)
	}
	if !f.To.IsZero() {
		rng.Max = strconv.FormatFloat(dateScore(f.To), 'f', 0, 64)
	}
	key := ownerClosingsKey(ownerID)
	total, err := s.client.ZCount(ctx, key, rng.Min, rng.Max).Result()
	if err != nil {
		return nil, 0, shared.Unavailable("docstore: count closings", err)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, key, rng).Result()
	if err != nil {
		return nil, 0, shared.Unavailable("docstore: list closings", err)
	}
	items, err := s.closingsByID(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}

// ListClosingsByStoreDate returns every closing of a store for date.
func (s *Store) ListClosingsByStoreDate(ctx context.Context, storeID string, date time.Time) ([]closing.Closing, error) {
	score := strconv.FormatFloat(dateScore(date), 'f', 0, 64)
	ids, err := s.client.ZRangeByScore(ctx, storeClosingsKey(storeID), &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return nil, shared.Unavailable("docstore: list store closings", err)
	}
	return s.closingsByID(ctx, ids)
}

func (s *Store) closingsByID(ctx context.Context, ids []string) ([]closing.Closing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = closingKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, shared.Unavailable("docstore: load closings", err)
	}
	out := make([]closing.Closing, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		c, err := decodeClosing([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetReceivable loads a receivable by id.
func (s *Store) GetReceivable(ctx context.Context, id string) (receivable.Receivable, error) {
	r, err := loadReceivable(ctx, s.client, id)
	if err != nil {
		return receivable.Receivable{}, translate("docstore: get receivable", err)
	}
	return r, nil
}

// ListReceivablesByStore returns every receivable of a store in no particular order.
func (s *Store) ListReceivablesByStore(ctx context.Context, storeID string) ([]receivable.Receivable, error) {
	ids, err := s.client.SMembers(ctx, storeReceivablesKey(storeID)).Result()
	if err != nil {
		return nil, shared.Unavailable("docstore: list receivables", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = receivableKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, shared.Unavailable("docstore: load receivables", err)
	}
	out := make([]receivable.Receivable, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decodeReceivable([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ClearReceivable marks a paid receivable as cleared under WATCH.
func (s *Store) ClearReceivable(ctx context.Context, id string, at time.Time) (receivable.Receivable, error) {
	key := receivableKey(id)
	var cleared receivable.Receivable
	txf := func(tx *redis.Tx) error {
		r, err := loadReceivable(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.Clear(at.UTC()); err != nil {
			return err
		}
		raw, err := json.Marshal(toReceivableDoc(r))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		cleared = r
		return err
	}
	if err := s.client.Watch(ctx, txf, key); err != nil {
		return receivable.Receivable{}, translate("docstore: clear receivable", err)
	}
	return cleared, nil
}

func loadClosing(ctx context.Context, c redis.Cmdable, id string) (closing.Closing, error) {
	raw, err := c.Get(ctx, closingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return closing.Closing{}, closing.ErrNotFound
	}
	if err != nil {
		return closing.Closing{}, err
	}
	return decodeClosing(raw)
}

func loadReceivable(ctx context.Context, c redis.Cmdable, id string) (receivable.Receivable, error) {
	raw, err := c.Get(ctx, receivableKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return receivable.Receivable{}, receivable.ErrNotFound
	}
	if err != nil {
		return receivable.Receivable{}, err
	}
	return decodeReceivable(raw)
}

func decodeClosing(raw []byte) (closing.Closing, error) {
	var doc closingDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return closing.Closing{}, fmt.Errorf("docstore: decode closing: %w", err)
	}
	return doc.toDomain()
}

func decodeReceivable(raw []byte) (receivable.Receivable, error) {
	var doc receivableDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return receivable.Receivable{}, fmt.Errorf("docstore: decode receivable: %w", err)
	}
	return doc.toDomain()
}

// translate keeps domain errors and maps Redis failures onto the shared taxonomy.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: concurrent modification: %w", op, shared.ErrConflict)
	case errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrAccessDenied),
		errors.Is(err, shared.ErrValidation):
		return err
	default:
		return shared.Unavailable(op, err)
	}
}
