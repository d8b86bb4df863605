package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/platform/httpx"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// Middleware resolves the session identity and guards routes by permission.
type Middleware struct {
	Service  *Service
	Sessions *shared.SessionManager
	Logger   *slog.Logger
}

// Authenticate attaches the principal of the session to the request context.
// A session whose identity is no longer in the directory is destroyed.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || strings.TrimSpace(sess.Email()) == "" {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		principal, err := m.Service.Resolve(sess.Email())
		if err != nil {
			if errors.Is(err, shared.ErrUnauthenticated) {
				if m.Sessions != nil {
					m.Sessions.Destroy(sess)
				}
				if m.Logger != nil {
					m.Logger.Warn("session identity not in directory", slog.String("email", sess.Email()))
				}
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), principal)))
	})
}

// RequireAny ensures the current principal has at least one of the permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard(required, hasAnyPermission)
}

// RequireAll ensures the current principal has every permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard(required, hasAllPermissions)
}

func (m Middleware) guard(required []string, check func(granted, required []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.FromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if !check(PermissionsFor(principal), required) {
				if m.Logger != nil {
					m.Logger.Info("permission denied", slog.String("email", principal.Email), slog.Any("required", required))
				}
				httpx.RespondError(w, shared.ErrAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := toSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted, required []string) bool {
	set := toSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[strings.ToLower(p)] = struct{}{}
	}
	return set
}
