package auth

import "errors"

const (
	ModeToken   = "token"
	ModeSession = "session"
)

// Identity is what a resolved token asserts about its bearer.
type Identity struct {
	UserID int64
	Email  string
}

// TokenAuthority is the single system of record for bearer tokens. A gateway
// is built with exactly one implementation.
type TokenAuthority interface {
	Mode() string
	Issue(userID int64, email string) (string, error)
	Resolve(token string) (Identity, error)
	Revoke(token string)
	RevokeUser(userID int64)
}

// StatelessAuthority backs bearer tokens with a TokenCodec. Tokens cannot be
// revoked before expiry; logout is the client discarding its token.
type StatelessAuthority struct {
	codec *TokenCodec
}

func NewStatelessAuthority(codec *TokenCodec) *StatelessAuthority {
	return &StatelessAuthority{codec: codec}
}

func (a *StatelessAuthority) Mode() string { return ModeToken }

func (a *StatelessAuthority) Issue(userID int64, email string) (string, error) {
	return a.codec.Issue(userID, email)
}

func (a *StatelessAuthority) Resolve(token string) (Identity, error) {
	p, err := a.codec.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: p.UserID, Email: p.Email}, nil
}

func (a *StatelessAuthority) Revoke(string) {}

func (a *StatelessAuthority) RevokeUser(int64) {}

// ErrUnknownSession is returned when a session token is not in the registry.
var ErrUnknownSession = errors.New("unknown session")

// SessionAuthority backs bearer tokens with a SessionRegistry.
type SessionAuthority struct {
	registry *SessionRegistry
}

func NewSessionAuthority(registry *SessionRegistry) *SessionAuthority {
	return &SessionAuthority{registry: registry}
}

func (a *SessionAuthority) Mode() string { return ModeSession }

func (a *SessionAuthority) Issue(userID int64, email string) (string, error) {
	return a.registry.Create(userID, email)
}

func (a *SessionAuthority) Resolve(token string) (Identity, error) {
	s, ok := a.registry.Lookup(token)
	if !ok {
		return Identity{}, ErrUnknownSession
	}
	return Identity{UserID: s.UserID, Email: s.Email}, nil
}

func (a *SessionAuthority) Revoke(token string) { a.registry.Revoke(token) }

func (a *SessionAuthority) RevokeUser(userID int64) { a.registry.RevokeUser(userID) }
