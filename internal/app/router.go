package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/fechamento/internal/auth"
	closinghttp "github.com/odyssey-erp/fechamento/internal/closing/http"
	"github.com/odyssey-erp/fechamento/internal/observability"
	"github.com/odyssey-erp/fechamento/internal/platform/httpx"
	"github.com/odyssey-erp/fechamento/internal/rbac"
	receivablehttp "github.com/odyssey-erp/fechamento/internal/receivable/http"
	"github.com/odyssey-erp/fechamento/internal/shared"
	"github.com/odyssey-erp/fechamento/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Store              Pinger
	AuthHandler        *auth.Handler
	RBACMiddleware     rbac.Middleware
	PermissionsHandler *rbac.PermissionsHandler
	ClosingHandler     *closinghttp.Handler
	ReceivableHandler  *receivablehttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", healthHandler(params.Store))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/auth", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
		if params.PermissionsHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.Authenticate)
				params.PermissionsHandler.MountRoutes(r)
			})
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)
		if params.ClosingHandler != nil {
			params.ClosingHandler.MountRoutes(r)
		}
		if params.ReceivableHandler != nil {
			params.ReceivableHandler.MountRoutes(r)
		}
	})

	return r
}

func healthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				httpx.RespondError(w, shared.Unavailable("healthz", err))
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
