package rbac

import (
	"context"
	"sort"

	"github.com/odyssey-erp/fechamento/internal/identity"
)

// Resolver maps a session identity to a principal.
type Resolver interface {
	Resolve(email string) (identity.Principal, error)
}

// Service answers permission questions from the identity directory.
type Service struct {
	resolver Resolver
}

// NewService constructs a Service backed by the directory.
func NewService(resolver Resolver) *Service {
	return &Service{resolver: resolver}
}

// Resolve returns the principal for email.
func (s *Service) Resolve(email string) (identity.Principal, error) {
	return s.resolver.Resolve(email)
}

// EffectivePermissions lists the permissions granted to the identity, sorted.
func (s *Service) EffectivePermissions(ctx context.Context, email string) ([]string, error) {
	p, err := s.resolver.Resolve(email)
	if err != nil {
		return nil, err
	}
	return PermissionsFor(p), nil
}

// PermissionsFor returns the sorted grants of a principal's role.
func PermissionsFor(p identity.Principal) []string {
	perms := append([]string(nil), Grants[p.Role]...)
	sort.Strings(perms)
	return perms
}

// ListPermissions returns every known permission, sorted.
func (s *Service) ListPermissions(ctx context.Context) []string {
	seen := map[string]struct{}{}
	for _, perms := range Grants {
		for _, p := range perms {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
