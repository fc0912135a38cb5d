package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
)

type stubAuthService struct {
	ports.AuthService
	authenticateFn func(ctx context.Context, authorization string) (*domain.Principal, error)
}

func (s *stubAuthService) AuthenticateRequest(ctx context.Context, authorization string) (*domain.Principal, error) {
	return s.authenticateFn(ctx, authorization)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := echo.New()
	stub := &stubAuthService{
		authenticateFn: func(_ context.Context, authorization string) (*domain.Principal, error) {
			if authorization != "Bearer good" {
				t.Fatalf("unexpected header %q", authorization)
			}
			return &domain.Principal{UserID: 1, Email: "alice@example.com"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := Auth(stub)(func(c echo.Context) error {
		called = true
		p, ok := c.Get(PrincipalKey).(*domain.Principal)
		if !ok || p.UserID != 1 || p.Email != "alice@example.com" {
			t.Fatalf("principal not set: %+v", c.Get(PrincipalKey))
		}
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Rejected(t *testing.T) {
	e := echo.New()
	stub := &stubAuthService{
		authenticateFn: func(context.Context, string) (*domain.Principal, error) {
			return nil, domain.ErrUnauthenticated
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := Auth(stub)(func(c echo.Context) error {
		t.Fatalf("should not reach next")
		return nil
	})

	if err := handler(c); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if c.Get(PrincipalKey) != nil {
		t.Fatalf("principal must not be set on failure")
	}
}

func TestAuthMiddleware_StoreFailureIsNotMasked(t *testing.T) {
	e := echo.New()
	storeErr := &domain.StoreError{Op: "find user by id", Err: errors.New("timeout")}
	stub := &stubAuthService{
		authenticateFn: func(context.Context, string) (*domain.Principal, error) {
			return nil, storeErr
		},
	}

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	handler := Auth(stub)(func(c echo.Context) error { return nil })

	if err := handler(c); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}
