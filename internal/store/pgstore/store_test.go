package pgstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/platform/db"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

func TestNumericRoundTrip(t *testing.T) {
	for _, raw := range []string{"0", "70.00", "1234.56", "0.01", "999999.99"} {
		d := decimal.RequireFromString(raw)
		require.True(t, fromNumeric(numeric(d)).Equal(d), raw)
	}
	require.True(t, fromNumeric(numeric(decimal.Zero)).IsZero())
}

func TestTranslate(t *testing.T) {
	require.NoError(t, translate("op", nil))
	require.ErrorIs(t, translate("op", pgx.ErrNoRows), shared.ErrNotFound)
	require.ErrorIs(t, translate("op", &pgconn.PgError{Code: uniqueViolation}), shared.ErrConflict)
	require.ErrorIs(t, translate("op", &pgconn.PgError{Code: serializationFailure}), shared.ErrConflict)
	require.ErrorIs(t, translate("op", &pgconn.PgError{Code: numericOutOfRange}), shared.ErrValidation)
	require.ErrorIs(t, translate("op", &pgconn.PgError{Code: checkViolation}), shared.ErrValidation)
	require.NotErrorIs(t, translate("op", &pgconn.PgError{Code: numericOutOfRange}), shared.ErrUnavailable)
	require.ErrorIs(t, translate("op", closing.ErrNotEditable), closing.ErrNotEditable)
	require.ErrorIs(t, translate("op", fmt.Errorf("dial tcp: refused")), shared.ErrUnavailable)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "0001_init.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE closing_received_payments, receivables, closing_variable_exits, closing_fixed_exits, closing_entrances, closings CASCADE`)
	require.NoError(t, err)
	return New(pool)
}

func day(s string) time.Time {
	d, err := closing.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bundleFor(date string, collections ...receivable.Collection) closing.CreateBundle {
	at := day(date).Add(20 * time.Hour)
	d := day(date)
	b := closing.CreateBundle{
		Closing: closing.Closing{
			Date:    d,
			StoreID: "capao",
			OwnerID: "capao@vistoria.com",
			Items: closing.LineItems{
				Entrances:     map[string]int{"carro": 2},
				FixedExits:    map[string]decimal.Decimal{"pix": decimal.RequireFromString("50.00")},
				VariableExits: []closing.VariableExit{{Name: "Café", Amount: decimal.RequireFromString("7.50")}},
			},
			CreatedAt: at,
			UpdatedAt: at,
		},
		Collections: collections,
	}
	if len(collections) == 0 {
		b.Closing.Items.NewReceivables = []closing.NewReceivable{{ClientName: "Maria", Plate: "ABC1234", Amount: decimal.RequireFromString("100.00")}}
		b.NewReceivables = []receivable.Receivable{
			receivable.NewPending("Maria", "ABC1234", decimal.RequireFromString("100.00"), d, "capao", "capao@vistoria.com"),
		}
	}
	return b
}

func TestPostgresClosingLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateClosing(ctx, bundleFor("2024-03-01"))
	require.NoError(t, err)
	rid := first.Items.NewReceivables[0].ReceivableID

	_, err = store.CreateClosing(ctx, bundleFor("2024-03-01"))
	require.ErrorIs(t, err, closing.ErrDuplicateClosing)

	found, err := store.FindClosing(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, 2, found.Items.Entrances["carro"])
	require.Len(t, found.Items.VariableExits, 1)
	require.Equal(t, rid, found.Items.NewReceivables[0].ReceivableID)

	at := day("2024-03-02").Add(19 * time.Hour)
	second, err := store.CreateClosing(ctx, bundleFor("2024-03-02", receivable.Collection{ReceivableID: rid, Amount: decimal.RequireFromString("100"), At: at}))
	require.NoError(t, err)

	r, err := store.GetReceivable(ctx, rid)
	require.NoError(t, err)
	require.Equal(t, receivable.StatusPaid, r.Status)
	require.Equal(t, second.ID, r.CollectedClosingID)

	_, err = store.CreateClosing(ctx, bundleFor("2024-03-03", receivable.Collection{ReceivableID: rid, Amount: decimal.RequireFromString("100"), At: at}))
	require.ErrorIs(t, err, receivable.ErrStateConflict)
	exists, err := store.ClosingExists(ctx, "capao@vistoria.com", day("2024-03-03"))
	require.NoError(t, err)
	require.False(t, exists)

	cleared, err := store.ClearReceivable(ctx, rid, at.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, receivable.StatusCleared, cleared.Status)
	_, err = store.ClearReceivable(ctx, rid, at)
	require.ErrorIs(t, err, receivable.ErrStateConflict)

	updated, err := store.UpdateClosing(ctx, closing.UpdateParams{
		ID:            first.ID,
		OwnerID:       first.OwnerID,
		EditableAfter: day("2024-02-25"),
		Entrances:     map[string]int{"moto": 3},
		UpdatedAt:     at,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"moto": 3}, updated.Items.Entrances)
	require.Empty(t, updated.Items.VariableExits)

	_, err = store.UpdateClosing(ctx, closing.UpdateParams{ID: first.ID, OwnerID: first.OwnerID, EditableAfter: day("2024-03-01")})
	require.ErrorIs(t, err, closing.ErrNotEditable)

	page, total, err := store.ListClosingsByOwner(ctx, "capao@vistoria.com", closing.HistoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, second.ID, page[0].ID)

	byStore, err := store.ListClosingsByStoreDate(ctx, "capao", day("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, byStore, 1)

	_, err = store.FindClosing(ctx, "not-a-uuid")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
