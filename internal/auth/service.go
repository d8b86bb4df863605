package auth

import (
	"context"
	"strings"

	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/shared"
)

// Authenticator checks credentials against the identity directory.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (identity.Principal, error)
}

// Service wraps authentication business rules.
type Service struct {
	directory Authenticator
}

// NewService constructs a new Service.
func NewService(directory Authenticator) *Service {
	return &Service{directory: directory}
}

// Authenticate validates email/password credentials. Every failure is
// reported as shared.ErrInvalidCredentials so callers cannot probe identities.
func (s *Service) Authenticate(ctx context.Context, email, password string) (identity.Principal, error) {
	p, err := s.directory.Authenticate(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return identity.Principal{}, shared.ErrInvalidCredentials
	}
	return p, nil
}
