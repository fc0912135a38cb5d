package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/samber/oops"
)

// SessionTokenBytes of entropy back every opaque session token.
const SessionTokenBytes = 32

// Session is the server-side record behind an opaque token.
type Session struct {
	UserID    int64
	Email     string
	CreatedAt time.Time
}

// SessionRegistry maps opaque tokens to sessions in process memory. A session
// is valid exactly while it is present. It is only sound for a single
// long-lived instance: every restart logs all users out.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Session // keyed by sha256(token)
	maxAge   time.Duration
	now      func() time.Time
}

// NewSessionRegistry builds an empty registry. Sessions older than maxAge are
// removed by Sweep; maxAge <= 0 keeps them until revoked.
func NewSessionRegistry(maxAge time.Duration) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]Session),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Create stores a session and returns its plaintext token.
func (r *SessionRegistry) Create(userID int64, email string) (string, error) {
	raw := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}
	token := hex.EncodeToString(raw)

	r.mu.Lock()
	r.sessions[hashToken(token)] = Session{UserID: userID, Email: email, CreatedAt: r.now()}
	r.mu.Unlock()

	return token, nil
}

// Lookup returns the session for token, if any. Sessions past maxAge are
// treated as absent even before Sweep removes them.
func (r *SessionRegistry) Lookup(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	r.mu.RLock()
	s, ok := r.sessions[hashToken(token)]
	r.mu.RUnlock()
	if ok && r.maxAge > 0 && r.now().Sub(s.CreatedAt) > r.maxAge {
		return Session{}, false
	}
	return s, ok
}

// Revoke removes the session for token. Unknown tokens are ignored.
func (r *SessionRegistry) Revoke(token string) {
	r.mu.Lock()
	delete(r.sessions, hashToken(token))
	r.mu.Unlock()
}

// RevokeUser drops every session that belongs to userID.
func (r *SessionRegistry) RevokeUser(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, k)
			n++
		}
	}
	return n
}

// Sweep removes sessions older than maxAge.
func (r *SessionRegistry) Sweep() int {
	if r.maxAge <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(r.sessions, k)
			n++
		}
	}
	return n
}

// Len is the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
