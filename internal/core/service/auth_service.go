package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opsdash/authgate/internal/core/auth"
	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
	"github.com/opsdash/authgate/internal/pkg/metrics"
)

const (
	bearerPrefix        = "Bearer "
	defaultStoreTimeout = 5 * time.Second
	unknownClient       = "unknown"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AuthConfig tunes the gateway. Zero values fall back to the defaults.
type AuthConfig struct {
	LoginPolicy  auth.Policy
	SignupPolicy auth.Policy
	StoreTimeout time.Duration

	// LimiterFailOpen admits attempts when the limiter backend errors.
	// Otherwise the attempt fails as a store error.
	LimiterFailOpen bool
}

// AuthService composes hashing, tokens, rate limiting and the credential
// store into register, login, request authentication and logout.
type AuthService struct {
	store   ports.CredentialStore
	hasher  *auth.PasswordHasher
	tokens  auth.TokenAuthority
	limiter *auth.RateLimiter
	audit   ports.AuditRecorder
	cfg     AuthConfig
	log     zerolog.Logger
	now     func() time.Time

	// Verified against when the email is unknown so both login failures cost
	// one derivation.
	dummySalt string
	dummyHash string
}

// NewAuthService wires the gateway. audit may be nil.
func NewAuthService(
	store ports.CredentialStore,
	hasher *auth.PasswordHasher,
	tokens auth.TokenAuthority,
	limiter *auth.RateLimiter,
	audit ports.AuditRecorder,
	cfg AuthConfig,
	log zerolog.Logger,
) (*AuthService, error) {
	if store == nil || hasher == nil || tokens == nil || limiter == nil {
		return nil, errors.New("auth service: store, hasher, tokens and limiter are required")
	}
	if cfg.LoginPolicy.MaxAttempts == 0 {
		cfg.LoginPolicy = auth.DefaultLoginPolicy
	}
	if cfg.SignupPolicy.MaxAttempts == 0 {
		cfg.SignupPolicy = auth.DefaultSignupPolicy
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if audit == nil {
		audit = noopRecorder{}
	}

	salt, hash, err := hasher.Hash(ulid.Make().String())
	if err != nil {
		return nil, fmt.Errorf("auth service: dummy hash: %w", err)
	}

	return &AuthService{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		limiter:   limiter,
		audit:     audit,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		dummySalt: salt,
		dummyHash: hash,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, in ports.RegisterInput) (*domain.AuthResult, error) {
	const op = "register"

	if in.Email == "" || in.Password == "" {
		return nil, s.fail(op, domain.NewValidationError("Email and password required"))
	}
	client := clientKey(in.ClientAddr)
	if err := s.limit(ctx, domain.ActionSignup, "signup:"+client, s.cfg.SignupPolicy, in.Email, client); err != nil {
		return nil, s.fail(op, err)
	}
	if !emailPattern.MatchString(in.Email) {
		return nil, s.fail(op, domain.NewValidationError("Invalid email format"))
	}
	if err := s.hasher.ValidateStrength(in.Password); err != nil {
		return nil, s.fail(op, err)
	}

	// Fast path only; the unique constraint in Create is what actually
	// prevents duplicates under concurrent signups.
	if _, err := s.findByEmail(ctx, in.Email); err == nil {
		return nil, s.fail(op, domain.ErrUserExists)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, s.fail(op, &domain.StoreError{Op: "find user by email", Err: err})
	}

	salt, hash, err := s.hash(in.Password)
	if err != nil {
		return nil, s.fail(op, fmt.Errorf("hash password: %w", err))
	}

	user := &domain.UserCredential{
		Email:        in.Email,
		PasswordHash: hash,
		PasswordSalt: salt,
		CreatedAt:    s.now().UTC(),
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		user.Name = &name
	}

	created, err := s.create(ctx, user)
	if err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, s.fail(op, domain.ErrUserExists)
		}
		return nil, s.fail(op, &domain.StoreError{Op: "create user", Err: err})
	}

	token, err := s.tokens.Issue(created.ID, created.Email)
	if err != nil {
		return nil, s.fail(op, fmt.Errorf("issue token: %w", err))
	}

	s.log.Info().Int64("user_id", created.ID).Str("email", created.Email).Msg("user signed up")
	s.emit(domain.AuthEvent{Type: domain.EventUserRegistered, UserID: created.ID, Email: created.Email, ClientAddr: client})
	s.succeed(op)

	return &domain.AuthResult{Token: token, User: created.Public()}, nil
}

func (s *AuthService) Login(ctx context.Context, in ports.LoginInput) (*domain.AuthResult, error) {
	const op = "login"

	if in.Email == "" || in.Password == "" {
		return nil, s.fail(op, domain.NewValidationError("Email and password required"))
	}
	// Keyed by email; an empty email never reaches this point.
	client := clientKey(in.ClientAddr)
	if err := s.limit(ctx, domain.ActionLogin, "login:"+in.Email, s.cfg.LoginPolicy, in.Email, client); err != nil {
		return nil, s.fail(op, err)
	}

	user, err := s.findByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, s.fail(op, &domain.StoreError{Op: "find user by email", Err: err})
		}
		_, _ = s.verify(in.Password, s.dummySalt, s.dummyHash)
		s.emit(domain.AuthEvent{Type: domain.EventLoginFailed, Email: in.Email, ClientAddr: client, Reason: "unknown_email"})
		return nil, s.fail(op, domain.ErrInvalidCredentials)
	}

	ok, err := s.verify(in.Password, user.PasswordSalt, user.PasswordHash)
	if err != nil {
		return nil, s.fail(op, &domain.StoreError{Op: "verify password", Err: err})
	}
	if !ok {
		s.emit(domain.AuthEvent{Type: domain.EventLoginFailed, UserID: user.ID, Email: user.Email, ClientAddr: client, Reason: "wrong_password"})
		return nil, s.fail(op, domain.ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, s.fail(op, fmt.Errorf("issue token: %w", err))
	}

	s.log.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("user logged in")
	s.emit(domain.AuthEvent{Type: domain.EventLoginSucceeded, UserID: user.ID, Email: user.Email, ClientAddr: client})
	s.succeed(op)

	return &domain.AuthResult{Token: token, User: user.Public()}, nil
}

// AuthenticateRequest resolves an Authorization header to a principal. The
// user row is re-read on every call so deleting a user invalidates tokens
// that are otherwise still valid.
func (s *AuthService) AuthenticateRequest(ctx context.Context, authorization string) (*domain.Principal, error) {
	const op = "authenticate"

	token, ok := BearerToken(authorization)
	if !ok {
		return nil, s.fail(op, domain.ErrUnauthenticated)
	}

	id, err := s.tokens.Resolve(token)
	if err != nil {
		s.log.Debug().Err(err).Str("mode", s.tokens.Mode()).Msg("bearer token rejected")
		return nil, s.fail(op, domain.ErrUnauthenticated)
	}

	user, err := s.findByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.tokens.RevokeUser(id.UserID)
			s.emit(domain.AuthEvent{Type: domain.EventStaleTokenRejected, UserID: id.UserID, Email: id.Email})
			return nil, s.fail(op, domain.ErrUnauthenticated)
		}
		return nil, s.fail(op, &domain.StoreError{Op: "find user by id", Err: err})
	}

	s.succeed(op)
	return &domain.Principal{UserID: user.ID, Email: user.Email, User: user.Public()}, nil
}

// Logout always succeeds. With stateless tokens the client discards its
// token; with sessions the entry is removed.
func (s *AuthService) Logout(_ context.Context, authorization string) error {
	if token, ok := BearerToken(authorization); ok && s.tokens.Mode() == auth.ModeSession {
		s.tokens.Revoke(token)
		s.emit(domain.AuthEvent{Type: domain.EventSessionRevoked})
	}
	s.log.Info().Str("mode", s.tokens.Mode()).Msg("user logged out")
	s.succeed("logout")
	return nil
}

// BearerToken extracts the token from an exact "Bearer <token>" header.
func BearerToken(authorization string) (string, bool) {
	token, found := strings.CutPrefix(authorization, bearerPrefix)
	if !found || token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}

func (s *AuthService) limit(ctx context.Context, action, key string, p auth.Policy, email, client string) error {
	d, err := s.limiter.Check(ctx, key, p)
	if err != nil {
		metrics.RateLimitErrorsTotal.Inc()
		if s.cfg.LimiterFailOpen {
			s.log.Warn().Err(err).Str("action", action).Msg("rate limiter unavailable, allowing attempt")
			return nil
		}
		s.log.Error().Err(err).Str("action", action).Msg("rate limiter unavailable, refusing attempt")
		return &domain.StoreError{Op: "rate limit " + action, Err: err}
	}
	if d.Allowed {
		return nil
	}

	metrics.RateLimitRejectionsTotal.WithLabelValues(action).Inc()
	s.emit(domain.AuthEvent{Type: domain.EventRateLimited, Email: email, ClientAddr: client, Reason: action})
	return &domain.RateLimitedError{Action: action, RetryAfter: d.RetryAfter}
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (*domain.UserCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.FindByEmail(ctx, email)
}

func (s *AuthService) findByID(ctx context.Context, id int64) (*domain.UserCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.FindByID(ctx, id)
}

func (s *AuthService) create(ctx context.Context, user *domain.UserCredential) (*domain.UserCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.Create(ctx, user)
}

func (s *AuthService) hash(password string) (string, string, error) {
	start := time.Now()
	defer func() { metrics.PasswordHashDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds()) }()
	return s.hasher.Hash(password)
}

func (s *AuthService) verify(password, salt, hash string) (bool, error) {
	start := time.Now()
	defer func() { metrics.PasswordHashDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds()) }()
	return s.hasher.Verify(password, salt, hash)
}

func (s *AuthService) emit(ev domain.AuthEvent) {
	ev.ID = ulid.Make().String()
	ev.At = s.now().UTC()
	s.audit.Enqueue(ev)
}

func (s *AuthService) succeed(op string) {
	metrics.AuthAttemptsTotal.WithLabelValues(op, "success").Inc()
}

func (s *AuthService) fail(op string, err error) error {
	metrics.AuthAttemptsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "invalid_input"
	case errors.Is(err, domain.ErrUserExists):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrStore):
		return "store_error"
	default:
		return "internal_error"
	}
}

func clientKey(addr string) string {
	if addr = strings.TrimSpace(addr); addr == "" {
		return unknownClient
	}
	return addr
}

type noopRecorder struct{}

func (noopRecorder) Enqueue(domain.AuthEvent) {}
