package ports

import (
	"context"

	"github.com/opsdash/authgate/internal/core/domain"
)

// CredentialStore is the persistence boundary for user credentials.
// Create must rely on a storage-level unique constraint on email and return
// domain.ErrUserExists when it fires. Lookups return domain.ErrUserNotFound
// when no row matches.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*domain.UserCredential, error)
	FindByID(ctx context.Context, id int64) (*domain.UserCredential, error)
	Create(ctx context.Context, user *domain.UserCredential) (*domain.UserCredential, error)
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
