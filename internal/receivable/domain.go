package receivable

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

// Status captures the settlement stage of a receivable.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusCleared Status = "cleared"
)

// StatusFilter selects receivables for store listings.
type StatusFilter string

const (
	FilterPending           StatusFilter = "pending"
	FilterAwaitingClearance StatusFilter = "awaiting_clearance"
	FilterCleared           StatusFilter = "cleared"
	FilterAll               StatusFilter = "all"
)

var (
	// ErrStateConflict is returned when a transition is not allowed from the current status.
	ErrStateConflict = fmt.Errorf("receivable: invalid state transition: %w", shared.ErrConflict)
	// ErrDuplicateCollection is returned when one submission collects the same receivable twice.
	ErrDuplicateCollection = fmt.Errorf("receivable: collected more than once in the same closing: %w", shared.ErrConflict)
	// ErrNotFound indicates the receivable does not exist or is outside the caller's scope.
	ErrNotFound = fmt.Errorf("receivable: %w", shared.ErrNotFound)
)

// Receivable is a deferred payment owed by a client for a vehicle service.
type Receivable struct {
	ID                 string
	ClientName         string
	Plate              string
	Amount             decimal.Decimal
	DebitDate          time.Time
	StoreID            string
	OwnerID            string
	Status             Status
	OriginClosingID    string
	PaymentDate        *time.Time
	ClearanceDate      *time.Time
	CollectedAmount    *decimal.Decimal
	CollectedClosingID string
	CreatedAt          time.Time
}

// Collection describes a pending receivable collected as cash by a closing.
type Collection struct {
	ReceivableID string
	ClientName   string
	Amount       decimal.Decimal
	At           time.Time
}

// NewPending builds a receivable in its initial state.
func NewPending(clientName, plate string, amount decimal.Decimal, debitDate time.Time, storeID, ownerID string) Receivable {
	return Receivable{
		ClientName: strings.TrimSpace(clientName),
		Plate:      NormalizePlate(plate),
		Amount:     amount,
		DebitDate:  debitDate,
		StoreID:    storeID,
		OwnerID:    ownerID,
		Status:     StatusPending,
	}
}

// Collect moves a pending receivable to paid. The collected amount may differ
// from the original amount; the receivable is considered settled either way.
func (r *Receivable) Collect(amount decimal.Decimal, at time.Time, closingID string) error {
	if r.Status != StatusPending {
		return fmt.Errorf("collect %s from %s: %w", r.ID, r.Status, ErrStateConflict)
	}
	paidAt := at
	collected := amount
	r.Status = StatusPaid
	r.PaymentDate = &paidAt
	r.CollectedAmount = &collected
	r.CollectedClosingID = closingID
	return nil
}

// Clear confirms a paid receivable was verified by the bank.
func (r *Receivable) Clear(at time.Time) error {
	if r.Status != StatusPaid || r.ClearanceDate != nil {
		return fmt.Errorf("clear %s from %s: %w", r.ID, r.Status, ErrStateConflict)
	}
	clearedAt := at
	r.Status = StatusCleared
	r.ClearanceDate = &clearedAt
	return nil
}

// AwaitingClearance reports whether the receivable was paid but not yet cleared.
func (r Receivable) AwaitingClearance() bool {
	return r.Status == StatusPaid && r.ClearanceDate == nil
}

// Matches reports whether the receivable belongs to the filter bucket.
func (f StatusFilter) Matches(r Receivable) bool {
	switch f {
	case FilterPending:
		return r.Status == StatusPending
	case FilterAwaitingClearance:
		return r.AwaitingClearance()
	case FilterCleared:
		return r.Status == StatusCleared && r.ClearanceDate != nil
	case FilterAll, "":
		return true
	}
	return false
}

// ParseStatusFilter validates a filter value; empty means all.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FilterAll, nil
	case FilterPending, FilterAwaitingClearance, FilterCleared, FilterAll:
		return f, nil
	}
	verr := &shared.ValidationError{}
	verr.Add("status", "must be one of pending, awaiting_clearance, cleared, all")
	return "", verr
}

// CheckUniqueCollections rejects submissions collecting a receivable twice.
func CheckUniqueCollections(collections []Collection) error {
	seen := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		if _, dup := seen[c.ReceivableID]; dup {
			return fmt.Errorf("%s: %w", c.ReceivableID, ErrDuplicateCollection)
		}
		seen[c.ReceivableID] = struct{}{}
	}
	return nil
}

// NormalizePlate upper-cases a vehicle plate and removes separators.
func NormalizePlate(plate string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(plate)))
}

// Bucket aggregates count and amount.
type Bucket struct {
	Count  int
	Amount decimal.Decimal
}

// Summary counts a store's receivables per settlement stage.
type Summary struct {
	StoreID           string
	Pending           Bucket
	AwaitingClearance Bucket
	Cleared           Bucket
}

// Summarize folds receivables into a Summary. Paid receivables count their
// collected amount when one was recorded.
func Summarize(storeID string, items []Receivable) Summary {
	s := Summary{StoreID: storeID}
	for _, r := range items {
		amount := r.Amount
		if r.CollectedAmount != nil {
			amount = *r.CollectedAmount
		}
		switch {
		case r.Status == StatusPending:
			s.Pending.add(r.Amount)
		case r.AwaitingClearance():
			s.AwaitingClearance.add(amount)
		case r.Status == StatusCleared:
			s.Cleared.add(amount)
		}
	}
	return s
}

func (b *Bucket) add(amount decimal.Decimal) {
	b.Count++
	b.Amount = b.Amount.Add(amount)
}
