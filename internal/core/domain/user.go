package domain

import "time"

// UserCredential is the persisted credential row. At most one row exists per
// email; the store enforces that with a unique constraint.
type UserCredential struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PasswordSalt string    `json:"-"`
	Name         *string   `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PublicUser is the subset of a credential that may leave the service.
type PublicUser struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public strips the hash and salt.
func (u *UserCredential) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

// Principal is the identity attached to an authenticated request.
type Principal struct {
	UserID int64
	Email  string
	User   PublicUser
}

// AuthResult is returned by a successful register or login.
type AuthResult struct {
	Token string
	User  PublicUser
}
