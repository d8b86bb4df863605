// Package pgstore persists closings and receivables in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

const (
	uniqueViolation      = "23505"
	checkViolation       = "23514"
	numericOutOfRange    = "22003"
	serializationFailure = "40001"
)

// Store implements closing.Repository and receivable.Repository on PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	newID func() string
}

// New constructs a store on top of a pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, newID: uuid.NewString}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return shared.Unavailable("pgstore: ping", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == uniqueViolation
}

// validID reports whether id can be compared against a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// translate keeps domain errors and maps driver failures onto the shared taxonomy.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrAccessDenied),
		errors.Is(err, shared.ErrValidation):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, shared.ErrNotFound)
	case isUniqueViolation(err), pgCode(err) == serializationFailure:
		return fmt.Errorf("%s: %w", op, shared.ErrConflict)
	case pgCode(err) == checkViolation, pgCode(err) == numericOutOfRange:
		return fmt.Errorf("%s: value out of range: %w", op, shared.ErrValidation)
	default:
		return shared.Unavailable(op, err)
	}
}
