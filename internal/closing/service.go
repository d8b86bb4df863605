package closing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

const (
	defaultHistoryLimit = 31
	maxHistoryLimit     = 200
	overviewConcurrency = 4
)

// Repository is the persistence port for closings.
type Repository interface {
	ClosingExists(ctx context.Context, ownerID string, date time.Time) (bool, error)
	// CreateClosing writes the closing, its new receivables and the collected
	// receivables in one atomic unit. It returns ErrDuplicateClosing when the
	// (owner, date) key is taken and receivable.ErrStateConflict when a
	// collected receivable is no longer pending.
	CreateClosing(ctx context.Context, bundle CreateBundle) (Closing, error)
	FindClosing(ctx context.Context, id string) (Closing, error)
	FindClosingByOwnerDate(ctx context.Context, ownerID string, date time.Time) (Closing, error)
	// UpdateClosing must apply the change only when OwnerID matches and the
	// closing date is after EditableAfter, returning ErrNotEditable otherwise.
	UpdateClosing(ctx context.Context, params UpdateParams) (Closing, error)
	ListClosingsByOwner(ctx context.Context, ownerID string, filter HistoryFilter) ([]Closing, int, error)
	ListClosingsByStoreDate(ctx context.Context, storeID string, date time.Time) ([]Closing, error)
}

// ReceivableReader loads receivables referenced by a submission.
type ReceivableReader interface {
	GetReceivable(ctx context.Context, id string) (receivable.Receivable, error)
}

// StoreLister enumerates the stores visible to the admin.
type StoreLister interface {
	Stores() []string
}

// Service orchestrates closing creation, reads and edits.
type Service struct {
	repo        Repository
	receivables ReceivableReader
	stores      StoreLister
	calc        Calculator
	policy      EditPolicy
	now         func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, receivables ReceivableReader, stores StoreLister, calc Calculator, policy EditPolicy) *Service {
	return &Service{
		repo:        repo,
		receivables: receivables,
		stores:      stores,
		calc:        calc,
		policy:      policy,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Calculator exposes the calculator used by the service.
func (s *Service) Calculator() Calculator {
	return s.calc
}

// Create validates and stores a new closing for the principal's store.
func (s *Service) Create(ctx context.Context, who identity.Principal, in CreateInput) (Closing, error) {
	if who.IsAdmin() || who.StoreID == "" {
		return Closing{}, fmt.Errorf("closing: only store operators record closings: %w", shared.ErrAccessDenied)
	}
	date, err := s.validateCreate(who, in)
	if err != nil {
		return Closing{}, err
	}
	collections := make([]receivable.Collection, 0, len(in.ReceivedPayments))
	at := s.now()
	for _, p := range in.ReceivedPayments {
		collections = append(collections, receivable.Collection{
			ReceivableID: strings.TrimSpace(p.ReceivableID),
			ClientName:   strings.TrimSpace(p.ClientName),
			Amount:       p.Amount,
			At:           at,
		})
	}
	if err := receivable.CheckUniqueCollections(collections); err != nil {
		return Closing{}, err
	}

	exists, err := s.repo.ClosingExists(ctx, who.Email, date)
	if err != nil {
		return Closing{}, err
	}
	if exists {
		return Closing{}, ErrDuplicateClosing
	}

	for i, c := range collections {
		r, err := s.receivables.GetReceivable(ctx, c.ReceivableID)
		if err != nil {
			return Closing{}, err
		}
		if r.StoreID != who.StoreID {
			return Closing{}, receivable.ErrNotFound
		}
		if r.Status != receivable.StatusPending {
			return Closing{}, fmt.Errorf("collect %s: %w", r.ID, receivable.ErrStateConflict)
		}
		if date.Before(r.DebitDate) {
			verr := &shared.ValidationError{}
			verr.Add(fmt.Sprintf("received_payments[%d].receivable_id", i), "collected before its debit date "+FormatDate(r.DebitDate))
			return Closing{}, verr
		}
		if collections[i].ClientName == "" {
			collections[i].ClientName = r.ClientName
		}
	}

	items := LineItems{
		Entrances:     in.Entrances,
		FixedExits:    in.FixedExits,
		VariableExits: trimVariableExits(in.VariableExits),
	}
	newReceivables := make([]receivable.Receivable, 0, len(in.NewReceivables))
	for _, nr := range in.NewReceivables {
		r := receivable.NewPending(nr.ClientName, nr.Plate, nr.Amount, date, who.StoreID, who.Email)
		newReceivables = append(newReceivables, r)
		items.NewReceivables = append(items.NewReceivables, NewReceivable{ClientName: r.ClientName, Plate: r.Plate, Amount: r.Amount})
	}
	for _, c := range collections {
		items.ReceivedPayments = append(items.ReceivedPayments, ReceivedPayment{ReceivableID: c.ReceivableID, ClientName: c.ClientName, Amount: c.Amount})
	}

	totals := s.calc.Calculate(items)
	if err := checkTotals(totals); err != nil {
		return Closing{}, err
	}
	record := Closing{
		Date:         date,
		StoreID:      who.StoreID,
		OwnerID:      who.Email,
		OperatorName: strings.TrimSpace(in.OperatorName),
		Items:        items,
		Totals:       totals,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	return s.repo.CreateClosing(ctx, CreateBundle{
		Closing:        record,
		NewReceivables: newReceivables,
		Collections:    collections,
	})
}

// Get returns the principal's own closing for date.
func (s *Service) Get(ctx context.Context, who identity.Principal, date time.Time) (View, error) {
	c, err := s.repo.FindClosingByOwnerDate(ctx, who.Email, date)
	if err != nil {
		return View{}, err
	}
	return s.View(c, who), nil
}

// GetByID returns a closing by id. The admin may read any closing; operators only their own.
func (s *Service) GetByID(ctx context.Context, who identity.Principal, id string) (View, error) {
	c, err := s.repo.FindClosing(ctx, strings.TrimSpace(id))
	if err != nil {
		return View{}, err
	}
	if !who.IsAdmin() && c.OwnerID != who.Email {
		return View{}, ErrNotFound
	}
	return s.View(c, who), nil
}

// Update replaces the editable movements of a closing and recomputes its totals.
// Receivables recorded at creation are kept as they are.
func (s *Service) Update(ctx context.Context, who identity.Principal, id string, in UpdateInput) (Closing, error) {
	current, err := s.repo.FindClosing(ctx, strings.TrimSpace(id))
	if err != nil {
		return Closing{}, err
	}
	if !who.IsAdmin() && current.OwnerID != who.Email {
		return Closing{}, ErrNotFound
	}
	now := s.now()
	if !s.policy.IsEditable(current, who, now) {
		return Closing{}, ErrNotEditable
	}
	if err := s.validateMovements(current.StoreID, in.OperatorName, in.Entrances, in.FixedExits, in.VariableExits); err != nil {
		return Closing{}, err
	}
	items := current.Items
	items.Entrances = in.Entrances
	items.FixedExits = in.FixedExits
	items.VariableExits = trimVariableExits(in.VariableExits)
	totals := s.calc.Calculate(items)
	if err := checkTotals(totals); err != nil {
		return Closing{}, err
	}

	return s.repo.UpdateClosing(ctx, UpdateParams{
		ID:            current.ID,
		OwnerID:       who.Email,
		EditableAfter: s.policy.EditableAfter(now),
		OperatorName:  strings.TrimSpace(in.OperatorName),
		Entrances:     items.Entrances,
		FixedExits:    items.FixedExits,
		VariableExits: items.VariableExits,
		Totals:        totals,
		UpdatedAt:     now,
	})
}

// History pages through the principal's closings, newest first.
func (s *Service) History(ctx context.Context, who identity.Principal, filter HistoryFilter) (HistoryPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		verr := &shared.ValidationError{}
		verr.Add("to", "must not be before from")
		return HistoryPage{}, verr
	}
	items, total, err := s.repo.ListClosingsByOwner(ctx, who.Email, filter)
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{
		Items:      make([]View, 0, len(items)),
		Pagination: shared.NewPagination(filter.Offset/filter.Limit+1, filter.Limit, total),
	}
	for _, c := range items {
		page.Items = append(page.Items, s.View(c, who))
	}
	return page, nil
}

// AdminOverview loads every store's closings for date concurrently.
func (s *Service) AdminOverview(ctx context.Context, who identity.Principal, date time.Time) (Overview, error) {
	if !who.IsAdmin() {
		return Overview{}, fmt.Errorf("closing: overview requires admin: %w", shared.ErrAccessDenied)
	}
	stores := s.stores.Stores()
	result := make([]StoreOverview, len(stores))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewConcurrency)
	for i, storeID := range stores {
		i, storeID := i, storeID
		g.Go(func() error {
			closings, err := s.repo.ListClosingsByStoreDate(ctx, storeID, date)
			if err != nil {
				return fmt.Errorf("closing: overview %s: %w", storeID, err)
			}
			so := StoreOverview{StoreID: storeID, Closings: closings}
			for _, c := range closings {
				so.Totals = so.Totals.Add(s.calc.Calculate(c.Items))
			}
			result[i] = so
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	ov := Overview{Date: date, Stores: result}
	for _, so := range result {
		ov.GrandTotal = ov.GrandTotal.Add(so.Totals)
	}
	return ov, nil
}

// View wraps c with its recomputed totals and whether who may still edit it.
func (s *Service) View(c Closing, who identity.Principal) View {
	return View{
		Closing:  c,
		Totals:   s.calc.Calculate(c.Items),
		Editable: s.policy.IsEditable(c, who, s.now()),
	}
}

func (s *Service) validateCreate(who identity.Principal, in CreateInput) (time.Time, error) {
	verr := &shared.ValidationError{}
	date, err := ParseDate(in.Date)
	if err != nil {
		var dateErr *shared.ValidationError
		if errors.As(err, &dateErr) {
			verr.Fields = append(verr.Fields, dateErr.Fields...)
		}
	}
	if mErr := s.validateMovements(who.StoreID, in.OperatorName, in.Entrances, in.FixedExits, in.VariableExits); mErr != nil {
		var movErr *shared.ValidationError
		if errors.As(mErr, &movErr) {
			verr.Fields = append(verr.Fields, movErr.Fields...)
		}
	}
	if len(in.NewReceivables) > maxLineItems {
		verr.Add("new_receivables", fmt.Sprintf("at most %d entries", maxLineItems))
	}
	for i, nr := range in.NewReceivables {
		field := fmt.Sprintf("new_receivables[%d]", i)
		if strings.TrimSpace(nr.ClientName) == "" {
			verr.Add(field+".client_name", "required")
		}
		if receivable.NormalizePlate(nr.Plate) == "" {
			verr.Add(field+".plate", "required")
		}
		checkPositive(verr, field+".amount", nr.Amount)
	}
	if len(in.ReceivedPayments) > maxLineItems {
		verr.Add("received_payments", fmt.Sprintf("at most %d entries", maxLineItems))
	}
	for i, p := range in.ReceivedPayments {
		field := fmt.Sprintf("received_payments[%d]", i)
		if strings.TrimSpace(p.ReceivableID) == "" {
			verr.Add(field+".receivable_id", "required")
		}
		checkPositive(verr, field+".amount", p.Amount)
	}
	if err := verr.Err(); err != nil {
		return time.Time{}, err
	}
	return date, nil
}

func (s *Service) validateMovements(storeID, operatorName string, entrances map[string]int, fixedExits map[string]decimal.Decimal, variableExits []VariableExit) error {
	verr := &shared.ValidationError{}
	catalog := s.calc.Catalog()
	if catalog.RequiresOperatorName(storeID) && strings.TrimSpace(operatorName) == "" {
		verr.Add("operator_name", "required for this store")
	}
	for _, key := range sortedKeys(entrances) {
		if _, ok := catalog.Entrance(key); !ok {
			verr.Add("entrances."+key, "unknown entrance type")
			continue
		}
		switch q := entrances[key]; {
		case q < 0:
			verr.Add("entrances."+key, "must not be negative")
		case q > MaxQuantity:
			verr.Add("entrances."+key, fmt.Sprintf("must not exceed %d", MaxQuantity))
		}
	}
	for _, key := range sortedKeys(fixedExits) {
		if _, ok := catalog.FixedExit(key); !ok {
			verr.Add("fixed_exits."+key, "unknown fixed exit")
			continue
		}
		switch amount := fixedExits[key]; {
		case amount.IsNegative():
			verr.Add("fixed_exits."+key, "must not be negative")
		case amount.GreaterThan(MaxAmount):
			verr.Add("fixed_exits."+key, "must not exceed "+MaxAmount.String())
		}
	}
	if len(variableExits) > maxLineItems {
		verr.Add("variable_exits", fmt.Sprintf("at most %d entries", maxLineItems))
	}
	for i, v := range variableExits {
		field := fmt.Sprintf("variable_exits[%d]", i)
		if strings.TrimSpace(v.Name) == "" {
			verr.Add(field+".name", "required")
		}
		checkPositive(verr, field+".amount", v.Amount)
	}
	return verr.Err()
}

func checkPositive(verr *shared.ValidationError, field string, amount decimal.Decimal) {
	switch {
	case !amount.IsPositive():
		verr.Add(field, "must be greater than zero")
	case amount.GreaterThan(MaxAmount):
		verr.Add(field, "must not exceed "+MaxAmount.String())
	}
}

// checkTotals rejects submissions whose totals do not fit the stores.
func checkTotals(t Totals) error {
	verr := &shared.ValidationError{}
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"entrance_revenue", t.EntranceRevenue},
		{"gross_entrances", t.GrossEntrances},
		{"total_exits", t.TotalExits},
		{"final_cash_balance", t.FinalCashBalance},
	} {
		if f.value.Abs().GreaterThan(maxTotal) {
			verr.Add("totals."+f.name, "out of range")
		}
	}
	return verr.Err()
}

func trimVariableExits(in []VariableExit) []VariableExit {
	out := make([]VariableExit, 0, len(in))
	for _, v := range in {
		out = append(out, VariableExit{Name: strings.TrimSpace(v.Name), Amount: v.Amount})
	}
	return out
}
