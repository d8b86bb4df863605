package receivablehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/money"
	"github.com/odyssey-erp/fechamento/internal/observability"
	"github.com/odyssey-erp/fechamento/internal/platform/httpx"
	"github.com/odyssey-erp/fechamento/internal/rbac"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

const dateLayout = "2006-01-02"

type receivableService interface {
	Get(ctx context.Context, who identity.Principal, id string) (receivable.Receivable, error)
	List(ctx context.Context, who identity.Principal, storeID string, filter receivable.StatusFilter) ([]receivable.Receivable, error)
	Clear(ctx context.Context, who identity.Principal, id string) (receivable.Receivable, error)
	Summary(ctx context.Context, storeID string) (receivable.Summary, error)
}

// Handler exposes receivable listings and the clearance action.
type Handler struct {
	logger  *slog.Logger
	service receivableService
	rbac    rbac.Middleware
	audit   shared.AuditRecorder
	metrics *observability.Metrics
}

// NewHandler constructs a receivable HTTP handler.
func NewHandler(logger *slog.Logger, service receivableService, rbac rbac.Middleware, audit shared.AuditRecorder, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, audit: audit, metrics: metrics}
}

// MountRoutes registers receivable routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/receivables", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermReceivableView))
			r.Get("/", h.list)
			r.Get("/summary", h.summary)
			r.Get("/{id}", h.get)
		})
		r.With(h.rbac.RequireAll(rbac.PermReceivableClear)).Post("/{id}/clear", h.clear)
	})
}

type amountView struct {
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

func amountOf(d decimal.Decimal) amountView {
	return amountView{Value: money.Round(d).StringFixed(money.Scale), Formatted: money.Format(d)}
}

type receivableView struct {
	ID                 string      `json:"id"`
	ClientName         string      `json:"client_name"`
	Plate              string      `json:"plate"`
	Amount             amountView  `json:"amount"`
	DebitDate          string      `json:"debit_date"`
	StoreID            string      `json:"store_id"`
	OwnerID            string      `json:"owner_id"`
	Status             string      `json:"status"`
	AwaitingClearance  bool        `json:"awaiting_clearance"`
	OriginClosingID    string      `json:"origin_closing_id,omitempty"`
	PaymentDate        *time.Time  `json:"payment_date,omitempty"`
	ClearanceDate      *time.Time  `json:"clearance_date,omitempty"`
	CollectedAmount    *amountView `json:"collected_amount,omitempty"`
	CollectedClosingID string      `json:"collected_closing_id,omitempty"`
}

func viewOf(r receivable.Receivable) receivableView {
	out := receivableView{
		ID:                 r.ID,
		ClientName:         r.ClientName,
		Plate:              r.Plate,
		Amount:             amountOf(r.Amount),
		DebitDate:          r.DebitDate.Format(dateLayout),
		StoreID:            r.StoreID,
		OwnerID:            r.OwnerID,
		Status:             string(r.Status),
		AwaitingClearance:  r.AwaitingClearance(),
		OriginClosingID:    r.OriginClosingID,
		PaymentDate:        r.PaymentDate,
		ClearanceDate:      r.ClearanceDate,
		CollectedClosingID: r.CollectedClosingID,
	}
	if r.CollectedAmount != nil {
		collected := amountOf(*r.CollectedAmount)
		out.CollectedAmount = &collected
	}
	return out
}

type bucketView struct {
	Count  int        `json:"count"`
	Amount amountView `json:"amount"`
}

type summaryView struct {
	StoreID           string     `json:"store_id"`
	Pending           bucketView `json:"pending"`
	AwaitingClearance bucketView `json:"awaiting_clearance"`
	Cleared           bucketView `json:"cleared"`
}

func bucketOf(b receivable.Bucket) bucketView {
	return bucketView{Count: b.Count, Amount: amountOf(b.Amount)}
}

func principal(r *http.Request) (identity.Principal, error) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Principal{}, shared.ErrUnauthenticated
	}
	return p, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := receivable.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), who, r.URL.Query().Get("store"), filter)
	if err != nil {
		h.logFailure("list receivables", who, err)
		httpx.RespondError(w, err)
		return
	}
	out := make([]receivableView, 0, len(items))
	for _, item := range items {
		out = append(out, viewOf(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	storeID := strings.TrimSpace(r.URL.Query().Get("store"))
	if storeID == "" {
		storeID = who.StoreID
	}
	if storeID == "" {
		verr := &shared.ValidationError{}
		verr.Add("store", "required")
		httpx.RespondError(w, verr)
		return
	}
	if !who.CanAccessStore(storeID) {
		httpx.RespondError(w, fmt.Errorf("receivable: store %s: %w", storeID, shared.ErrAccessDenied))
		return
	}
	s, err := h.service.Summary(r.Context(), storeID)
	if err != nil {
		h.logFailure("receivable summary", who, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summaryView{
		StoreID:           s.StoreID,
		Pending:           bucketOf(s.Pending),
		AwaitingClearance: bucketOf(s.AwaitingClearance),
		Cleared:           bucketOf(s.Cleared),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Get(r.Context(), who, chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure("get receivable", who, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(item))
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Clear(r.Context(), who, chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure("clear receivable", who, err)
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ReceivableTransition(item.StoreID, string(receivable.StatusCleared), 1)
	if h.audit != nil {
		at := time.Now()
		if item.ClearanceDate != nil {
			at = *item.ClearanceDate
		}
		if err := h.audit.Record(r.Context(), shared.AuditLog{
			Actor:    who.Email,
			Action:   "receivable.clear",
			Entity:   "receivable",
			EntityID: item.ID,
			Meta:     map[string]any{"store": item.StoreID, "plate": item.Plate},
			At:       at,
		}); err != nil {
			h.logger.Warn("enqueue audit", slog.String("id", item.ID), slog.Any("error", err))
		}
	}
	h.logger.Info("receivable cleared", slog.String("id", item.ID), slog.String("store", item.StoreID))
	httpx.JSON(w, http.StatusOK, viewOf(item))
}

func (h *Handler) logFailure(op string, who identity.Principal, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrAccessDenied):
		h.logger.Info(op+" rejected", slog.String("email", who.Email), slog.Any("error", err))
	default:
		h.logger.Error(op+" failed", slog.String("email", who.Email), slog.Any("error", err))
	}
}
