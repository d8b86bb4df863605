package receivable

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// Repository is the persistence port for receivables.
type Repository interface {
	GetReceivable(ctx context.Context, id string) (Receivable, error)
	ListReceivablesByStore(ctx context.Context, storeID string) ([]Receivable, error)
	// ClearReceivable must re-check that the receivable is paid and not yet
	// cleared in the same atomic step that writes the clearance date.
	ClearReceivable(ctx context.Context, id string, at time.Time) (Receivable, error)
}

// Service exposes receivable queries and the standalone clearance action.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a receivable visible to the principal.
func (s *Service) Get(ctx context.Context, who identity.Principal, id string) (Receivable, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Receivable{}, ErrNotFound
	}
	r, err := s.repo.GetReceivable(ctx, id)
	if err != nil {
		return Receivable{}, err
	}
	if !who.CanAccessStore(r.StoreID) {
		return Receivable{}, ErrNotFound
	}
	return r, nil
}

// List returns the store's receivables matching filter, ordered by debit date.
// An empty storeID means the principal's own store.
func (s *Service) List(ctx context.Context, who identity.Principal, storeID string, filter StatusFilter) ([]Receivable, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		storeID = who.StoreID
	}
	if storeID == "" {
		verr := &shared.ValidationError{}
		verr.Add("store", "required")
		return nil, verr
	}
	if !who.CanAccessStore(storeID) {
		return nil, fmt.Errorf("receivable: store %s: %w", storeID, shared.ErrAccessDenied)
	}
	all, err := s.repo.ListReceivablesByStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]Receivable, 0, len(all))
	for _, r := range all {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DebitDate.Equal(out[j].DebitDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DebitDate.Before(out[j].DebitDate)
	})
	return out, nil
}

// Clear confirms a paid receivable. It is independent of any closing.
func (s *Service) Clear(ctx context.Context, who identity.Principal, id string) (Receivable, error) {
	current, err := s.Get(ctx, who, id)
	if err != nil {
		return Receivable{}, err
	}
	at := s.now()
	next := current
	if err := next.Clear(at); err != nil {
		return Receivable{}, err
	}
	return s.repo.ClearReceivable(ctx, current.ID, at)
}

// Summary aggregates a store's receivables per stage.
func (s *Service) Summary(ctx context.Context, storeID string) (Summary, error) {
	all, err := s.repo.ListReceivablesByStore(ctx, storeID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(storeID, all), nil
}
