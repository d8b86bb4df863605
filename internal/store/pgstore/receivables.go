package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/fechamento/internal/receivable"
)

const receivableColumns = `id::text, client_name, plate, amount, debit_date, store_id, owner_id, status,
	origin_closing_id::text, payment_date, clearance_date, collected_amount,
	COALESCE(collected_closing_id::text, ''), created_at`

func scanReceivable(row pgx.Row) (receivable.Receivable, error) {
	var r receivable.Receivable
	var amount, collected pgtype.Numeric
	var status string
	err := row.Scan(&r.ID, &r.ClientName, &r.Plate, &amount, &r.DebitDate, &r.StoreID, &r.OwnerID, &status,
		&r.OriginClosingID, &r.PaymentDate, &r.ClearanceDate, &collected, &r.CollectedClosingID, &r.CreatedAt)
	if err != nil {
		return receivable.Receivable{}, err
	}
	r.Amount = fromNumeric(amount)
	r.Status = receivable.Status(status)
	if collected.Valid {
		value := fromNumeric(collected)
		r.CollectedAmount = &value
	}
	return r, nil
}

// GetReceivable loads a receivable by id.
func (s *Store) GetReceivable(ctx context.Context, id string) (receivable.Receivable, error) {
	if !validID(id) {
		return receivable.Receivable{}, receivable.ErrNotFound
	}
	r, err := scanReceivable(s.pool.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return receivable.Receivable{}, receivable.ErrNotFound
	}
	if err != nil {
		return receivable.Receivable{}, translate("pgstore: get receivable", err)
	}
	return r, nil
}

// ListReceivablesByStore returns every receivable of a store.
func (s *Store) ListReceivablesByStore(ctx context.Context, storeID string) ([]receivable.Receivable, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE store_id = $1 ORDER BY debit_date, id`, storeID)
	if err != nil {
		return nil, translate("pgstore: list receivables", err)
	}
	defer rows.Close()
	var out []receivable.Receivable
	for rows.Next() {
		r, err := scanReceivable(rows)
		if err != nil {
			return nil, translate("pgstore: scan receivable", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("pgstore: list receivables", err)
	}
	return out, nil
}

// ClearReceivable sets the clearance date only while the row is still paid and uncleared.
func (s *Store) ClearReceivable(ctx context.Context, id string, at time.Time) (receivable.Receivable, error) {
	if !validID(id) {
		return receivable.Receivable{}, receivable.ErrNotFound
	}
	r, err := scanReceivable(s.pool.QueryRow(ctx, `
		UPDATE receivables SET status = 'cleared', clearance_date = $2
		WHERE id = $1 AND status = 'paid' AND clearance_date IS NULL
		RETURNING `+receivableColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receivables WHERE id = $1)`, id).Scan(&exists); err != nil {
			return receivable.Receivable{}, translate("pgstore: clear receivable", err)
		}
		if !exists {
			return receivable.Receivable{}, receivable.ErrNotFound
		}
		return receivable.Receivable{}, receivable.ErrStateConflict
	}
	if err != nil {
		return receivable.Receivable{}, translate("pgstore: clear receivable", err)
	}
	return r, nil
}
