// Package memory is a process-local CredentialStore for development and
// tests. It enforces the email uniqueness rule under a single lock.
package memory

import (
	"context"
	"sync"

	"github.com/opsdash/authgate/internal/core/domain"
)

type CredentialStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*domain.UserCredential
	byEmail map[string]int64
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:    make(map[int64]*domain.UserCredential),
		byEmail: make(map[string]int64),
	}
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.UserCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.UserCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *CredentialStore) Create(ctx context.Context, user *domain.UserCredential) (*domain.UserCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return nil, domain.ErrUserExists
	}
	s.nextID++
	stored := clone(user)
	stored.ID = s.nextID
	s.byID[stored.ID] = stored
	s.byEmail[stored.Email] = stored.ID
	return clone(stored), nil
}

// Delete removes a user. The gateway never deletes; this is the out-of-band
// removal path that stale tokens must survive.
func (s *CredentialStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byID, id)
	return nil
}

// Len reports how many rows are stored.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *CredentialStore) Ping(context.Context) error { return nil }

func clone(u *domain.UserCredential) *domain.UserCredential {
	if u == nil {
		return nil
	}
	c := *u
	if u.Name != nil {
		name := *u.Name
		c.Name = &name
	}
	return &c
}
