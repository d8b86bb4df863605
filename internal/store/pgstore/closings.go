package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/platform/db"
	"github.com/odyssey-erp/fechamento/internal/receivable"
)

const closingColumns = `id::text, store_id, owner_id, closing_date, operator_name,
	entrance_revenue, received_payments_total, gross_entrances, non_cash_electronic_inflow,
	cash_reducing_fixed_exits, variable_exits_total, new_receivables_total, total_exits,
	final_cash_balance, created_at, updated_at`

// ClosingExists reports whether owner already has a closing for date.
func (s *Store) ClosingExists(ctx context.Context, ownerID string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM closings WHERE owner_id = $1 AND closing_date = $2)`, ownerID, date).Scan(&exists)
	if err != nil {
		return false, translate("pgstore: closing exists", err)
	}
	return exists, nil
}

// CreateClosing inserts the closing row, its line items, its new receivables
// and the collections in one transaction. A collected receivable that is no
// longer pending rolls the whole transaction back.
func (s *Store) CreateClosing(ctx context.Context, bundle closing.CreateBundle) (closing.Closing, error) {
	c := bundle.Closing
	c.ID = s.newID()
	c.Items.NewReceivables = append([]closing.NewReceivable(nil), c.Items.NewReceivables...)

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		t := c.Totals
		_, err := tx.Exec(ctx, `
			INSERT INTO closings (
				id, store_id, owner_id, closing_date, operator_name,
				entrance_revenue, received_payments_total, gross_entrances, non_cash_electronic_inflow,
				cash_reducing_fixed_exits, variable_exits_total, new_receivables_total, total_exits,
				final_cash_balance, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			c.ID, c.StoreID, c.OwnerID, c.Date, c.OperatorName,
			numeric(t.EntranceRevenue), numeric(t.ReceivedPaymentsTotal), numeric(t.GrossEntrances), numeric(t.NonCashElectronicInflow),
			numeric(t.CashReducingFixedExits), numeric(t.VariableExitsTotal), numeric(t.NewReceivablesTotal), numeric(t.TotalExits),
			numeric(t.FinalCashBalance), c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return closing.ErrDuplicateClosing
			}
			return err
		}

		batch := &pgx.Batch{}
		queueMovements(batch, c.ID, c.Items)
		for i, col := range bundle.Collections {
			if !validID(col.ReceivableID) {
				return receivable.ErrNotFound
			}
			batch.Queue(`
				UPDATE receivables
				SET status = 'paid', payment_date = $2, collected_amount = $3, collected_closing_id = $4
				WHERE id = $1 AND store_id = $5 AND status = 'pending'`,
				col.ReceivableID, col.At, numeric(col.Amount), c.ID, c.StoreID,
			).Exec(func(tag pgconn.CommandTag) error {
				if tag.RowsAffected() == 0 {
					return receivable.ErrStateConflict
				}
				return nil
			})
			batch.Queue(`INSERT INTO closing_received_payments (closing_id, position, receivable_id, client_name, amount) VALUES ($1, $2, $3, $4, $5)`,
				c.ID, i, col.ReceivableID, col.ClientName, numeric(col.Amount))
		}
		for i, r := range bundle.NewReceivables {
			r.ID = s.newID()
			if i < len(c.Items.NewReceivables) {
				c.Items.NewReceivables[i].ReceivableID = r.ID
			}
			batch.Queue(`
				INSERT INTO receivables (
					id, origin_closing_id, origin_position, store_id, owner_id,
					client_name, plate, amount, debit_date, status, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)`,
				r.ID, c.ID, i, r.StoreID, r.OwnerID, r.ClientName, r.Plate, numeric(r.Amount), r.DebitDate, c.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return closing.Closing{}, translate("pgstore: create closing", err)
	}
	return c, nil
}

// FindClosing loads a closing with its line items.
func (s *Store) FindClosing(ctx context.Context, id string) (closing.Closing, error) {
	if !validID(id) {
		return closing.Closing{}, closing.ErrNotFound
	}
	c, err := findClosing(ctx, s.pool, `WHERE id = $1`, id)
	if err != nil {
		return closing.Closing{}, translate("pgstore: find closing", err)
	}
	return c, nil
}

// FindClosingByOwnerDate loads the owner's closing for date.
func (s *Store) FindClosingByOwnerDate(ctx context.Context, ownerID string, date time.Time) (closing.Closing, error) {
	c, err := findClosing(ctx, s.pool, `WHERE owner_id = $1 AND closing_date = $2`, ownerID, date)
	if err != nil {
		return closing.Closing{}, translate("pgstore: find closing by date", err)
	}
	return c, nil
}

// UpdateClosing rewrites the editable movements. The ownership and edit
// window checks are repeated in the UPDATE predicate.
func (s *Store) UpdateClosing(ctx context.Context, p closing.UpdateParams) (closing.Closing, error) {
	if !validID(p.ID) {
		return closing.Closing{}, closing.ErrNotFound
	}
	var updated closing.Closing
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		t := p.Totals
		tag, err := tx.Exec(ctx, `
			UPDATE closings SET
				operator_name = $4,
				entrance_revenue = $5, received_payments_total = $6, gross_entrances = $7,
				non_cash_electronic_inflow = $8, cash_reducing_fixed_exits = $9, variable_exits_total = $10,
				new_receivables_total = $11, total_exits = $12, final_cash_balance = $13,
				updated_at = $14
			WHERE id = $1 AND owner_id = $2 AND closing_date > $3`,
			p.ID, p.OwnerID, p.EditableAfter, p.OperatorName,
			numeric(t.EntranceRevenue), numeric(t.ReceivedPaymentsTotal), numeric(t.GrossEntrances),
			numeric(t.NonCashElectronicInflow), numeric(t.CashReducingFixedExits), numeric(t.VariableExitsTotal),
			numeric(t.NewReceivablesTotal), numeric(t.TotalExits), numeric(t.FinalCashBalance),
			p.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM closings WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return closing.ErrNotFound
			}
			return closing.ErrNotEditable
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM closing_entrances WHERE closing_id = $1`, p.ID)
		batch.Queue(`DELETE FROM closing_fixed_exits WHERE closing_id = $1`, p.ID)
		batch.Queue(`DELETE FROM closing_variable_exits WHERE closing_id = $1`, p.ID)
		queueMovements(batch, p.ID, closing.LineItems{
			Entrances:     p.Entrances,
			FixedExits:    p.FixedExits,
			VariableExits: p.VariableExits,
		})
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		updated, err = findClosing(ctx, tx, `WHERE id = $1`, p.ID)
		return err
	})
	if err != nil {
		return closing.Closing{}, translate("pgstore: update closing", err)
	}
	return updated, nil
}

// ListClosingsByOwner pages through an owner's closings, newest first.
func (s *Store) ListClosingsByOwner(ctx context.Context, ownerID string, f closing.HistoryFilter) ([]closing.Closing, int, error) {
	from, to := dateParam(f.From), dateParam(f.To)
	const filter = `WHERE owner_id = $1 AND ($2::date IS NULL OR closing_date >= $2) AND ($3::date IS NULL OR closing_date <= $3)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM closings `+filter, ownerID, from, to).Scan(&total); err != nil {
		return nil, 0, translate("pgstore: count closings", err)
	}
	items, err := listClosings(ctx, s.pool, filter+` ORDER BY closing_date DESC LIMIT $4 OFFSET $5`, ownerID, from, to, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, translate("pgstore: list closings", err)
	}
	return items, total, nil
}

// ListClosingsByStoreDate returns every closing of a store for date.
func (s *Store) ListClosingsByStoreDate(ctx context.Context, storeID string, date time.Time) ([]closing.Closing, error) {
	items, err := listClosings(ctx, s.pool, `WHERE store_id = $1 AND closing_date = $2 ORDER BY owner_id`, storeID, date)
	if err != nil {
		return nil, translate("pgstore: list store closings", err)
	}
	return items, nil
}

func dateParam(d time.Time) any {
	if d.IsZero() {
		return nil
	}
	return d
}

func queueMovements(batch *pgx.Batch, closingID string, items closing.LineItems) {
	for key, qty := range items.Entrances {
		batch.Queue(`INSERT INTO closing_entrances (closing_id, entrance_key, quantity) VALUES ($1, $2, $3)`, closingID, key, qty)
	}
	for key, amount := range items.FixedExits {
		batch.Queue(`INSERT INTO closing_fixed_exits (closing_id, exit_key, amount) VALUES ($1, $2, $3)`, closingID, key, numeric(amount))
	}
	for i, v := range items.VariableExits {
		batch.Queue(`INSERT INTO closing_variable_exits (closing_id, position, name, amount) VALUES ($1, $2, $3, $4)`, closingID, i, v.Name, numeric(v.Amount))
	}
}

func scanClosing(row pgx.Row) (closing.Closing, error) {
	var c closing.Closing
	var n [9]pgtype.Numeric
	err := row.Scan(&c.ID, &c.StoreID, &c.OwnerID, &c.Date, &c.OperatorName,
		&n[0], &n[1], &n[2], &n[3], &n[4], &n[5], &n[6], &n[7], &n[8],
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return closing.Closing{}, err
	}
	c.Totals = closing.Totals{
		EntranceRevenue:         fromNumeric(n[0]),
		ReceivedPaymentsTotal:   fromNumeric(n[1]),
		GrossEntrances:          fromNumeric(n[2]),
		NonCashElectronicInflow: fromNumeric(n[3]),
		CashReducingFixedExits:  fromNumeric(n[4]),
		VariableExitsTotal:      fromNumeric(n[5]),
		NewReceivablesTotal:     fromNumeric(n[6]),
		TotalExits:              fromNumeric(n[7]),
		FinalCashBalance:        fromNumeric(n[8]),
	}
	return c, nil
}

func findClosing(ctx context.Context, q querier, where string, args ...any) (closing.Closing, error) {
	c, err := scanClosing(q.QueryRow(ctx, `SELECT `+closingColumns+` FROM closings `+where, args...))
	if err != nil {
		return closing.Closing{}, err
	}
	if err := loadItems(ctx, q, &c); err != nil {
		return closing.Closing{}, err
	}
	return c, nil
}

func listClosings(ctx context.Context, q querier, where string, args ...any) ([]closing.Closing, error) {
	rows, err := q.Query(ctx, `SELECT `+closingColumns+` FROM closings `+where, args...)
	if err != nil {
		return nil, err
	}
	var out []closing.Closing
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadItems(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// loadItems fetches every line-item table of a closing in one round trip.
func loadItems(ctx context.Context, q querier, c *closing.Closing) error {
	items := closing.LineItems{
		Entrances:  map[string]int{},
		FixedExits: map[string]decimal.Decimal{},
	}
	batch := &pgx.Batch{}
	batch.Queue(`SELECT entrance_key, quantity FROM closing_entrances WHERE closing_id = $1`, c.ID).Query(func(rows pgx.Rows) error {
		for rows.Next() {
			var key string
			var qty int
			if err := rows.Scan(&key, &qty); err != nil {
				return err
			}
			items.Entrances[key] = qty
		}
		return rows.Err()
	})
	batch.Queue(`SELECT exit_key, amount FROM closing_fixed_exits WHERE closing_id = $1`, c.ID).Query(func(rows pgx.Rows) error {
		for rows.Next() {
			var key string
			var amount pgtype.Numeric
			if err := rows.Scan(&key, &amount); err != nil {
				return err
			}
			items.FixedExits[key] = fromNumeric(amount)
		}
		return rows.Err()
	})
	batch.Queue(`SELECT name, amount FROM closing_variable_exits WHERE closing_id = $1 ORDER BY position`, c.ID).Query(func(rows pgx.Rows) error {
		for rows.Next() {
			var v closing.VariableExit
			var amount pgtype.Numeric
			if err := rows.Scan(&v.Name, &amount); err != nil {
				return err
			}
			v.Amount = fromNumeric(amount)
			items.VariableExits = append(items.VariableExits, v)
		}
		return rows.Err()
	})
	batch.Queue(`SELECT id::text, client_name, plate, amount FROM receivables WHERE origin_closing_id = $1 ORDER BY origin_position`, c.ID).Query(func(rows pgx.Rows) error {
		for rows.Next() {
			var nr closing.NewReceivable
			var amount pgtype.Numeric
			if err := rows.Scan(&nr.ReceivableID, &nr.ClientName, &nr.Plate, &amount); err != nil {
				return err
			}
			nr.Amount = fromNumeric(amount)
			items.NewReceivables = append(items.NewReceivables, nr)
		}
		return rows.Err()
	})
	batch.Queue(`SELECT receivable_id::text, client_name, amount FROM closing_received_payments WHERE closing_id = $1 ORDER BY position`, c.ID).Query(func(rows pgx.Rows) error {
		for rows.Next() {
			var p closing.ReceivedPayment
			var amount pgtype.Numeric
			if err := rows.Scan(&p.ReceivableID, &p.ClientName, &amount); err != nil {
				return err
			}
			p.Amount = fromNumeric(amount)
			items.ReceivedPayments = append(items.ReceivedPayments, p)
		}
		return rows.Err()
	})
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	c.Items = items
	return nil
}
