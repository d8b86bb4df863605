package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/platform/httpx"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// PermissionsHandler reports who the caller is and what they may do.
type PermissionsHandler struct {
	service *Service
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(service *Service) *PermissionsHandler {
	return &PermissionsHandler{service: service}
}

// MountRoutes registers the routes. The router must already run Authenticate.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Get("/permissions", h.listPermissions)
}

type meResponse struct {
	Email       string   `json:"email"`
	StoreID     string   `json:"store_id,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), p.Email)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		Email:       p.Email,
		StoreID:     p.StoreID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Permissions: perms,
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.service.ListPermissions(r.Context())})
}
