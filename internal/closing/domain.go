package closing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// DateLayout is the calendar date format used for closings.
const DateLayout = "2006-01-02"

// MaxQuantity bounds a single entrance count.
const MaxQuantity = 10_000

const maxLineItems = 200

// MaxAmount bounds any single amount typed by an operator.
var MaxAmount = decimal.NewFromInt(10_000_000)

// maxTotal is the largest total the stores can hold (twelve integer digits).
var maxTotal = decimal.RequireFromString("999999999999.99")

var (
	// ErrDuplicateClosing is returned when the owner already closed that date.
	ErrDuplicateClosing = fmt.Errorf("closing: a closing already exists for this date: %w", shared.ErrConflict)
	// ErrNotEditable is returned when the edit window or ownership rule refuses a change.
	ErrNotEditable = fmt.Errorf("closing: not editable: %w", shared.ErrAccessDenied)
	// ErrNotFound indicates the closing does not exist or is outside the caller's scope.
	ErrNotFound = fmt.Errorf("closing: %w", shared.ErrNotFound)
)

// VariableExit is a free-form expense.
type VariableExit struct {
	Name   string
	Amount decimal.Decimal
}

// NewReceivable is a sale on credit recorded by the closing. ReceivableID is
// filled in once the receivable has been stored.
type NewReceivable struct {
	ReceivableID string
	ClientName   string
	Plate        string
	Amount       decimal.Decimal
}

// ReceivedPayment is a pending receivable collected as cash in this closing.
type ReceivedPayment struct {
	ReceivableID string
	ClientName   string
	Amount       decimal.Decimal
}

// LineItems are the operator-entered movements of a closing.
type LineItems struct {
	Entrances        map[string]int
	FixedExits       map[string]decimal.Decimal
	VariableExits    []VariableExit
	NewReceivables   []NewReceivable
	ReceivedPayments []ReceivedPayment
}

// Totals is the derived snapshot of a closing. It can always be recomputed
// from LineItems with a Calculator.
type Totals struct {
	EntranceRevenue         decimal.Decimal
	ReceivedPaymentsTotal   decimal.Decimal
	GrossEntrances          decimal.Decimal
	NonCashElectronicInflow decimal.Decimal
	CashReducingFixedExits  decimal.Decimal
	VariableExitsTotal      decimal.Decimal
	NewReceivablesTotal     decimal.Decimal
	TotalExits              decimal.Decimal
	FinalCashBalance        decimal.Decimal
}

// Add sums two snapshots field by field.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		EntranceRevenue:         t.EntranceRevenue.Add(o.EntranceRevenue),
		ReceivedPaymentsTotal:   t.ReceivedPaymentsTotal.Add(o.ReceivedPaymentsTotal),
		GrossEntrances:          t.GrossEntrances.Add(o.GrossEntrances),
		NonCashElectronicInflow: t.NonCashElectronicInflow.Add(o.NonCashElectronicInflow),
		CashReducingFixedExits:  t.CashReducingFixedExits.Add(o.CashReducingFixedExits),
		VariableExitsTotal:      t.VariableExitsTotal.Add(o.VariableExitsTotal),
		NewReceivablesTotal:     t.NewReceivablesTotal.Add(o.NewReceivablesTotal),
		TotalExits:              t.TotalExits.Add(o.TotalExits),
		FinalCashBalance:        t.FinalCashBalance.Add(o.FinalCashBalance),
	}
}

// Equal compares every field by value.
func (t Totals) Equal(o Totals) bool {
	return t.EntranceRevenue.Equal(o.EntranceRevenue) &&
		t.ReceivedPaymentsTotal.Equal(o.ReceivedPaymentsTotal) &&
		t.GrossEntrances.Equal(o.GrossEntrances) &&
		t.NonCashElectronicInflow.Equal(o.NonCashElectronicInflow) &&
		t.CashReducingFixedExits.Equal(o.CashReducingFixedExits) &&
		t.VariableExitsTotal.Equal(o.VariableExitsTotal) &&
		t.NewReceivablesTotal.Equal(o.NewReceivablesTotal) &&
		t.TotalExits.Equal(o.TotalExits) &&
		t.FinalCashBalance.Equal(o.FinalCashBalance)
}

// Closing is one owner's end-of-day cash reconciliation for a store.
type Closing struct {
	ID           string
	Date         time.Time
	StoreID      string
	OwnerID      string
	OperatorName string
	Items        LineItems
	Totals       Totals
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// View is a closing as returned to readers, with freshly derived totals.
type View struct {
	Closing  Closing
	Totals   Totals
	Editable bool
}

// CreateInput carries a new closing submission.
type CreateInput struct {
	Date             string
	OperatorName     string
	Entrances        map[string]int
	FixedExits       map[string]decimal.Decimal
	VariableExits    []VariableExit
	NewReceivables   []NewReceivable
	ReceivedPayments []ReceivedPayment
}

// UpdateInput carries edited movements. Receivables are not editable.
type UpdateInput struct {
	OperatorName  string
	Entrances     map[string]int
	FixedExits    map[string]decimal.Decimal
	VariableExits []VariableExit
}

// CreateBundle is everything a store writes atomically when a closing is created.
// The store assigns ids to the closing and its new receivables.
type CreateBundle struct {
	Closing        Closing
	NewReceivables []receivable.Receivable
	Collections    []receivable.Collection
}

// UpdateParams is an edit that the store applies only if ownership and the
// edit window still hold when the row is written.
type UpdateParams struct {
	ID            string
	OwnerID       string
	EditableAfter time.Time
	OperatorName  string
	Entrances     map[string]int
	FixedExits    map[string]decimal.Decimal
	VariableExits []VariableExit
	Totals        Totals
	UpdatedAt     time.Time
}

// HistoryFilter pages through an owner's closings, newest first. Zero dates are open bounds.
type HistoryFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// HistoryPage is a page of an owner's closings.
type HistoryPage struct {
	Items      []View
	Pagination shared.Pagination
}

// StoreOverview is one store's closings for a date.
type StoreOverview struct {
	StoreID  string
	Closings []Closing
	Totals   Totals
}

// Overview aggregates every store for a date.
type Overview struct {
	Date       time.Time
	Stores     []StoreOverview
	GrandTotal Totals
}

// ParseDate reads a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		verr := &shared.ValidationError{}
		verr.Add("date", "must be a YYYY-MM-DD date")
		return time.Time{}, verr
	}
	return d, nil
}

// FormatDate renders a calendar date.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// ReceivedIDs lists the receivable ids collected by the closing.
func (li LineItems) ReceivedIDs() []string {
	ids := make([]string, 0, len(li.ReceivedPayments))
	for _, p := range li.ReceivedPayments {
		ids = append(ids, p.ReceivableID)
	}
	return ids
}
