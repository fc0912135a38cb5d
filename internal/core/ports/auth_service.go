package ports

import (
	"context"

	"github.com/opsdash/authgate/internal/core/domain"
)

// RegisterInput is the transport-neutral signup request.
type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	ClientAddr string
}

// LoginInput is the transport-neutral login request.
type LoginInput struct {
	Email      string
	Password   string
	ClientAddr string
}

// AuthService is the gateway the HTTP layer talks to.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.AuthResult, error)
	Login(ctx context.Context, in LoginInput) (*domain.AuthResult, error)
	AuthenticateRequest(ctx context.Context, authorization string) (*domain.Principal, error)
	Logout(ctx context.Context, authorization string) error
}
