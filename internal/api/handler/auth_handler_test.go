package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/opsdash/authgate/internal/api/middleware"
	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
)

type stubAuthService struct {
	registerFn func(ctx context.Context, in ports.RegisterInput) (*domain.AuthResult, error)
	loginFn    func(ctx context.Context, in ports.LoginInput) (*domain.AuthResult, error)
	logoutFn   func(ctx context.Context, authorization string) error
}

func (s *stubAuthService) Register(ctx context.Context, in ports.RegisterInput) (*domain.AuthResult, error) {
	return s.registerFn(ctx, in)
}

func (s *stubAuthService) Login(ctx context.Context, in ports.LoginInput) (*domain.AuthResult, error) {
	return s.loginFn(ctx, in)
}

func (s *stubAuthService) AuthenticateRequest(context.Context, string) (*domain.Principal, error) {
	return nil, domain.ErrUnauthenticated
}

func (s *stubAuthService) Logout(ctx context.Context, authorization string) error {
	if s.logoutFn == nil {
		return nil
	}
	return s.logoutFn(ctx, authorization)
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestAuthHandler_Signup_Success(t *testing.T) {
	e := newTestEcho()
	stub := &stubAuthService{
		registerFn: func(_ context.Context, in ports.RegisterInput) (*domain.AuthResult, error) {
			if in.Email != "ada@example.com" || in.Password != "Passw0rdX" || in.Name != "Ada" {
				t.Fatalf("unexpected input: %+v", in)
			}
			if in.ClientAddr != "203.0.113.9" {
				t.Fatalf("expected forwarded client address, got %q", in.ClientAddr)
			}
			return &domain.AuthResult{Token: "tok", User: domain.PublicUser{ID: 1, Email: in.Email}}, nil
		},
	}
	handler := NewAuthHandler(stub)

	req := jsonRequest(http.MethodPost, "/api/auth/signup", `{"email":"ada@example.com","password":"Passw0rdX","name":"Ada"}`)
	req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.Signup(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["success"] != true || resp["token"] != "tok" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user in response")
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatalf("hash leaked: %+v", user)
	}
	if user["email"] != "ada@example.com" {
		t.Fatalf("unexpected user payload: %+v", user)
	}
}

func TestAuthHandler_Signup_PassesErrorsThrough(t *testing.T) {
	e := newTestEcho()
	stub := &stubAuthService{
		registerFn: func(context.Context, ports.RegisterInput) (*domain.AuthResult, error) {
			return nil, domain.ErrUserExists
		},
	}
	handler := NewAuthHandler(stub)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/signup", `{"email":"bob@example.com","password":"x"}`), rec)

	err := handler.Signup(c)
	if !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthHandler_Signup_InvalidBody(t *testing.T) {
	e := newTestEcho()
	handler := NewAuthHandler(&stubAuthService{
		registerFn: func(context.Context, ports.RegisterInput) (*domain.AuthResult, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	})

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/signup", `{"email":`), rec)

	err := handler.Signup(c)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Reason != "Invalid request body" {
		t.Fatalf("expected invalid body validation error, got %v", err)
	}
}

func TestAuthHandler_Signup_OversizedField(t *testing.T) {
	e := newTestEcho()
	handler := NewAuthHandler(&stubAuthService{
		registerFn: func(context.Context, ports.RegisterInput) (*domain.AuthResult, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	})

	body := `{"email":"a@example.com","password":"Passw0rdX","name":"` + strings.Repeat("n", 201) + `"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/signup", body), rec)

	err := handler.Signup(c)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "name must be at most 200 characters") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	e := newTestEcho()
	stub := &stubAuthService{
		loginFn: func(_ context.Context, in ports.LoginInput) (*domain.AuthResult, error) {
			if in.Email != "carol@example.com" || in.Password != "S3cretPass" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &domain.AuthResult{Token: "tok", User: domain.PublicUser{ID: 2, Email: in.Email}}, nil
		},
	}
	handler := NewAuthHandler(stub)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"carol@example.com","password":"S3cretPass"}`), rec)

	if err := handler.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"token":"tok"`) {
		t.Fatalf("expected token in body: %s", rec.Body.String())
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	e := newTestEcho()
	handler := NewAuthHandler(&stubAuthService{
		loginFn: func(context.Context, ports.LoginInput) (*domain.AuthResult, error) {
			return nil, domain.ErrInvalidCredentials
		},
	})

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"x@example.com","password":"nope"}`), rec)

	if err := handler.Login(c); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthHandler_Verify(t *testing.T) {
	e := newTestEcho()
	handler := NewAuthHandler(&stubAuthService{})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil), rec)
	c.Set(middleware.PrincipalKey, &domain.Principal{
		UserID: 5, Email: "e@example.com", User: domain.PublicUser{ID: 5, Email: "e@example.com"},
	})

	if err := handler.Verify(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Success bool              `json:"success"`
		User    domain.PublicUser `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Success || resp.User.ID != 5 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAuthHandler_Verify_WithoutPrincipal(t *testing.T) {
	e := newTestEcho()
	handler := NewAuthHandler(&stubAuthService{})

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil), httptest.NewRecorder())
	if err := handler.Verify(c); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	e := newTestEcho()
	var gotHeader string
	handler := NewAuthHandler(&stubAuthService{
		logoutFn: func(_ context.Context, authorization string) error {
			gotHeader = authorization
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer abc")
	rec := httptest.NewRecorder()

	if err := handler.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if gotHeader != "Bearer abc" {
		t.Fatalf("expected header to be forwarded, got %q", gotHeader)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
