package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many attempts")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrStore              = errors.New("credential store unavailable")
)

// ValidationError carries the first failing input rule.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RateLimitedError is returned when a limiter window is exhausted.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the remaining window up to whole seconds, never below 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (e *RateLimitedError) Error() string {
	secs := e.RetryAfterSeconds()
	switch e.Action {
	case ActionSignup:
		return fmt.Sprintf("Too many signup attempts. Please try again in %d minutes.", int(math.Ceil(float64(secs)/60)))
	default:
		return fmt.Sprintf("Too many login attempts. Please try again in %d seconds.", secs)
	}
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// StoreError wraps a persistence failure. Its cause is logged, never rendered.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

const (
	ActionLogin  = "login"
	ActionSignup = "signup"
)
