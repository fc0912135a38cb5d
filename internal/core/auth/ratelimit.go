package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default policies for the authentication endpoints.
var (
	DefaultLoginPolicy  = Policy{MaxAttempts: 5, Window: 15 * time.Minute}
	DefaultSignupPolicy = Policy{MaxAttempts: 3, Window: time.Hour}
)

var ErrEmptyIdentifier = errors.New("rate limit identifier cannot be empty")

// Policy is a fixed-window allowance.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitStore keeps fixed-window counters. Take must update a key
// atomically: first call (or first call after the window expired) opens a
// window with one attempt; further calls increment until MaxAttempts, after
// which calls are refused without incrementing.
type RateLimitStore interface {
	Take(ctx context.Context, key string, p Policy) (Decision, error)
}

// RateLimiter applies policies to identifiers over a RateLimitStore.
type RateLimiter struct {
	store RateLimitStore
}

func NewRateLimiter(store RateLimitStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Check records an attempt for identifier and reports whether it is allowed.
func (l *RateLimiter) Check(ctx context.Context, identifier string, p Policy) (Decision, error) {
	if identifier == "" {
		return Decision{}, ErrEmptyIdentifier
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return l.store.Take(ctx, identifier, p)
}

// window is one key's counter. dead marks a window the sweeper has already
// unlinked; a Take that raced with the sweep retries on a fresh window.
type window struct {
	mu       sync.Mutex
	attempts int
	resetAt  time.Time
	dead     bool
}

func (w *window) take(now time.Time, p Policy) Decision {
	if w.resetAt.IsZero() || now.After(w.resetAt) {
		w.attempts = 1
		w.resetAt = now.Add(p.Window)
		return Decision{Allowed: true, Remaining: p.MaxAttempts - 1}
	}
	if w.attempts >= p.MaxAttempts {
		return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}
	}
	w.attempts++
	return Decision{Allowed: true, Remaining: p.MaxAttempts - w.attempts}
}

// MemoryStore is the in-process RateLimitStore. Each key has its own lock,
// so Take and Sweep never serialise on the whole map.
type MemoryStore struct {
	windows sync.Map // string -> *window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Take(_ context.Context, key string, p Policy) (Decision, error) {
	for {
		v, ok := s.windows.Load(key)
		if !ok {
			v, _ = s.windows.LoadOrStore(key, &window{})
		}
		w := v.(*window)

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		d := w.take(s.now(), p)
		w.mu.Unlock()
		return d, nil
	}
}

// Sweep removes windows that have already expired and returns how many.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	s.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		if !w.resetAt.IsZero() && now.After(w.resetAt) {
			w.dead = true
			s.windows.CompareAndDelete(k, v)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Len counts tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	s.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
