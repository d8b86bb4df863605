package closinghttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/fechamento/internal/closing"
	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/observability"
	"github.com/odyssey-erp/fechamento/internal/platform/httpx"
	"github.com/odyssey-erp/fechamento/internal/rbac"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyModule = "closings"
	maxPerPage        = 100
)

type closingService interface {
	Create(ctx context.Context, who identity.Principal, in closing.CreateInput) (closing.Closing, error)
	Get(ctx context.Context, who identity.Principal, date time.Time) (closing.View, error)
	GetByID(ctx context.Context, who identity.Principal, id string) (closing.View, error)
	Update(ctx context.Context, who identity.Principal, id string, in closing.UpdateInput) (closing.Closing, error)
	History(ctx context.Context, who identity.Principal, filter closing.HistoryFilter) (closing.HistoryPage, error)
	AdminOverview(ctx context.Context, who identity.Principal, date time.Time) (closing.Overview, error)
	View(c closing.Closing, who identity.Principal) closing.View
	Calculator() closing.Calculator
}

// Handler wires HTTP endpoints for recording, reading and editing closings.
type Handler struct {
	logger      *slog.Logger
	service     closingService
	rbac        rbac.Middleware
	idempotency shared.IdempotencyGuard
	audit       shared.AuditRecorder
	metrics     *observability.Metrics
	validator   *validator.Validate
}

// NewHandler constructs a closing HTTP handler. idempotency, audit and
// metrics are optional.
func NewHandler(logger *slog.Logger, service closingService, rbac rbac.Middleware, idempotency shared.IdempotencyGuard, audit shared.AuditRecorder, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		rbac:        rbac,
		idempotency: idempotency,
		audit:       audit,
		metrics:     metrics,
		validator:   httpx.NewValidator(),
	}
}

// MountRoutes registers closing routes. The caller must have attached the
// principal with rbac.Middleware.Authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/closings", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermClosingView))
			r.Get("/", h.history)
			r.Get("/by-date/{date}", h.getByDate)
			r.Get("/{id}", h.getByID)
		})
		r.With(h.rbac.RequireAll(rbac.PermClosingRecord)).Post("/", h.create)
		r.With(h.rbac.RequireAll(rbac.PermClosingEdit)).Put("/{id}", h.update)
	})
	r.With(h.rbac.RequireAll(rbac.PermClosingOverview)).Get("/admin/closings/overview", h.overview)
}

func principal(r *http.Request) (identity.Principal, error) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Principal{}, shared.ErrUnauthenticated
	}
	return p, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	claimed := false
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), who.Email+":"+key, idempotencyModule); err != nil {
			httpx.RespondError(w, err)
			return
		}
		claimed = true
	}

	created, err := h.service.Create(r.Context(), who, req.input())
	if err != nil {
		if claimed {
			if delErr := h.idempotency.Delete(r.Context(), who.Email+":"+key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.logFailure("create closing", who, err)
		httpx.RespondError(w, err)
		return
	}

	h.metrics.ClosingWritten(created.StoreID, "create")
	h.metrics.ReceivableTransition(created.StoreID, string(receivable.StatusPending), len(created.Items.NewReceivables))
	h.metrics.ReceivableTransition(created.StoreID, string(receivable.StatusPaid), len(created.Items.ReceivedPayments))
	h.record(r.Context(), who, "closing.create", created)
	h.logger.Info("closing created",
		slog.String("id", created.ID),
		slog.String("store", created.StoreID),
		slog.String("date", closing.FormatDate(created.Date)),
	)
	w.Header().Set("Location", "/closings/"+created.ID)
	httpx.JSON(w, http.StatusCreated, viewOf(h.service.View(created, who)))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), who, chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.logFailure("update closing", who, err)
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ClosingWritten(updated.StoreID, "update")
	h.record(r.Context(), who, "closing.update", updated)
	httpx.JSON(w, http.StatusOK, viewOf(h.service.View(updated, who)))
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.GetByID(r.Context(), who, chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure("get closing", who, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(view))
}

func (h *Handler) getByDate(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := closing.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Get(r.Context(), who, date)
	if err != nil {
		h.logFailure("get closing by date", who, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(view))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := parseHistoryFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.History(r.Context(), who, filter)
	if err != nil {
		h.logFailure("closing history", who, err)
		httpx.RespondError(w, err)
		return
	}
	out := historyView{Items: make([]closingView, 0, len(page.Items)), Pagination: page.Pagination}
	for _, v := range page.Items {
		out.Items = append(out.Items, viewOf(v))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	who, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := closing.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ov, err := h.service.AdminOverview(r.Context(), who, date)
	if err != nil {
		h.logFailure("admin overview", who, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overviewOf(ov, h.service.Calculator()))
}

func parseHistoryFilter(r *http.Request) (closing.HistoryFilter, error) {
	q := r.URL.Query()
	verr := &shared.ValidationError{}
	var filter closing.HistoryFilter
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		d, err := time.Parse(closing.DateLayout, raw)
		if err != nil {
			verr.Add("from", "must be a YYYY-MM-DD date")
		}
		filter.From = d
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		d, err := time.Parse(closing.DateLayout, raw)
		if err != nil {
			verr.Add("to", "must be a YYYY-MM-DD date")
		}
		filter.To = d
	}
	page := positiveInt(q.Get("page"), 1)
	perPage := positiveInt(q.Get("per_page"), 31)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	filter.Limit = perPage
	filter.Offset = shared.PageOffset(page, perPage)
	return filter, verr.Err()
}

func positiveInt(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func (h *Handler) record(ctx context.Context, who identity.Principal, action string, c closing.Closing) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, shared.AuditLog{
		Actor:    who.Email,
		Action:   action,
		Entity:   "closing",
		EntityID: c.ID,
		Meta: map[string]any{
			"store":              c.StoreID,
			"date":               closing.FormatDate(c.Date),
			"final_cash_balance": c.Totals.FinalCashBalance.StringFixed(2),
		},
		At: c.UpdatedAt,
	})
	if err != nil {
		h.logger.Warn("enqueue audit", slog.String("action", action), slog.String("id", c.ID), slog.Any("error", err))
	}
}

// logFailure logs unexpected errors loudly and client errors quietly.
func (h *Handler) logFailure(op string, who identity.Principal, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrAccessDenied):
		h.logger.Info(op+" rejected", slog.String("email", who.Email), slog.Any("error", err))
	default:
		h.logger.Error(op+" failed", slog.String("email", who.Email), slog.Any("error", err))
	}
}
