package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/opsdash/authgate/internal/core/domain"
)

const selectUser = `SELECT id, email, password_hash, password_salt, name, created_at FROM users`

// CredentialStore implements ports.CredentialStore on the users table.
type CredentialStore struct {
	pool poolIface
}

func NewCredentialStore(pool poolIface) *CredentialStore {
	return &CredentialStore{pool: pool}
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.UserCredential, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").With("email", email).Wrap(err)
	}
	return user, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.UserCredential, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").With("id", id).Wrap(err)
	}
	return user, nil
}

// Create inserts the user. The unique index on email decides concurrent
// signups for the same address.
func (s *CredentialStore) Create(ctx context.Context, user *domain.UserCredential) (*domain.UserCredential, error) {
	created := *user
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, password_salt, name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Email, user.PasswordHash, user.PasswordSalt, user.Name).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, oops.Code("USER_EXISTS").With("email", user.Email).Wrap(domain.ErrUserExists)
		}
		return nil, oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(err)
	}
	return &created, nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanUser(row pgx.Row) (*domain.UserCredential, error) {
	var u domain.UserCredential
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PasswordSalt, &u.Name, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
