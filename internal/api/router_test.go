package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/opsdash/authgate/internal/core/auth"
	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
	"github.com/opsdash/authgate/internal/core/service"
	"github.com/opsdash/authgate/internal/infrastructure/db/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestRouter(t *testing.T, store ports.CredentialStore) *echo.Echo {
	t.Helper()
	return newTestRouterWithProxies(t, store, nil)
}

func newTestRouterWithProxies(t *testing.T, store ports.CredentialStore, proxies []*net.IPNet) *echo.Echo {
	t.Helper()
	codec, err := auth.NewTokenCodec([]byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("token codec: %v", err)
	}
	svc, err := service.NewAuthService(
		store,
		auth.NewPasswordHasher(auth.DefaultIterations, auth.MinPasswordLength),
		auth.NewStatelessAuthority(codec),
		auth.NewRateLimiter(auth.NewMemoryStore()),
		nil,
		service.AuthConfig{},
		zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return NewRouter(Dependencies{
		AuthService:    svc,
		Health:         map[string]ports.Pinger{"store": store.(ports.Pinger)},
		Log:            zerolog.Nop(),
		TrustedProxies: proxies,
	})
}

func do(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	return doFrom(e, "", method, path, body, headers)
}

// doFrom sends the request from remoteAddr; empty keeps httptest's 192.0.2.1:1234.
func doFrom(e *echo.Echo, remoteAddr, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRouter_SignupLoginVerify(t *testing.T) {
	e := newTestRouter(t, memory.NewCredentialStore())

	rec := do(e, http.MethodPost, "/api/auth/signup", `{"email":"ada@example.com","password":"Passw0rdX","name":"Ada"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatal("expected request id header")
	}
	signup := decode(t, rec)
	if signup["success"] != true || signup["token"] == "" {
		t.Fatalf("unexpected signup payload: %+v", signup)
	}

	rec = do(e, http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"Passw0rdX"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := decode(t, rec)["token"].(string)

	rec = do(e, http.MethodGet, "/api/auth/verify", "", map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	user, _ := decode(t, rec)["user"].(map[string]any)
	if user["email"] != "ada@example.com" || user["name"] != "Ada" {
		t.Fatalf("unexpected user: %+v", user)
	}

	rec = do(e, http.MethodPost, "/api/auth/logout", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("logout: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	e := newTestRouter(t, memory.NewCredentialStore())

	rec := doFrom(e, "192.0.2.1:4000", http.MethodPost, "/api/auth/signup", `{"email":"bob@example.com","password":"Passw0rdX"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed signup failed: %d", rec.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ip     string
		status int
		error  string
	}{
		{"missing fields", http.MethodPost, "/api/auth/signup", `{"email":"x@example.com"}`, "192.0.2.2", http.StatusBadRequest, "Email and password required"},
		{"weak password", http.MethodPost, "/api/auth/signup", `{"email":"x@example.com","password":"short"}`, "192.0.2.3", http.StatusBadRequest, "Password must be at least 8 characters long"},
		{"duplicate", http.MethodPost, "/api/auth/signup", `{"email":"bob@example.com","password":"Passw0rdX"}`, "192.0.2.4", http.StatusConflict, "User already exists"},
		{"wrong password", http.MethodPost, "/api/auth/login", `{"email":"bob@example.com","password":"Wr0ngPass"}`, "", http.StatusUnauthorized, "Invalid email or password"},
		{"unknown email", http.MethodPost, "/api/auth/login", `{"email":"nobody@example.com","password":"Wr0ngPass"}`, "", http.StatusUnauthorized, "Invalid email or password"},
		{"malformed json", http.MethodPost, "/api/auth/login", `{`, "", http.StatusBadRequest, "Invalid request body"},
		{"verify without token", http.MethodGet, "/api/auth/verify", "", "", http.StatusUnauthorized, "Authentication required"},
		{"unknown route", http.MethodGet, "/api/auth/nope", "", "", http.StatusNotFound, "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := ""
			if tt.ip != "" {
				addr = tt.ip + ":4000"
			}
			rec := doFrom(e, addr, tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := decode(t, rec)["error"]; got != tt.error {
				t.Fatalf("expected error %q, got %q", tt.error, got)
			}
		})
	}
}

func TestRouter_CredentialFailuresAreByteIdentical(t *testing.T) {
	e := newTestRouter(t, memory.NewCredentialStore())
	do(e, http.MethodPost, "/api/auth/signup", `{"email":"user@example.com","password":"G00dPassword"}`, nil)

	wrong := do(e, http.MethodPost, "/api/auth/login", `{"email":"user@example.com","password":"wrongpassword"}`, nil)
	unknown := do(e, http.MethodPost, "/api/auth/login", `{"email":"nosuchuser@example.com","password":"anything"}`, nil)

	if wrong.Code != unknown.Code || wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("responses differ: %d %q vs %d %q", wrong.Code, wrong.Body.String(), unknown.Code, unknown.Body.String())
	}
}

func TestRouter_LoginRateLimit(t *testing.T) {
	e := newTestRouter(t, memory.NewCredentialStore())
	body := `{"email":"dave@example.com","password":"badpass"}`

	for i := 0; i < 5; i++ {
		if rec := do(e, http.MethodPost, "/api/auth/login", body, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := do(e, http.MethodPost, "/api/auth/login", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	msg, _ := decode(t, rec)["error"].(string)
	if !strings.HasPrefix(msg, "Too many login attempts. Please try again in ") {
		t.Fatalf("unexpected message %q", msg)
	}
}

type brokenStore struct{ memory.CredentialStore }

func (s *brokenStore) FindByEmail(context.Context, string) (*domain.UserCredential, error) {
	return nil, errors.New("pq: connection reset by peer")
}

func TestRouter_StoreFailureIsGeneric(t *testing.T) {
	e := newTestRouter(t, &brokenStore{})

	rec := do(e, http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"Passw0rdX"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestRouter_Operations(t *testing.T) {
	e := newTestRouter(t, memory.NewCredentialStore())

	if rec := do(e, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
	rec := do(e, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: got %d", rec.Code)
	}
}

func signupBody(i int) string {
	return fmt.Sprintf(`{"email":"user%d@example.com","password":"Passw0rdX"}`, i)
}

func TestRouter_SignupLimitIgnoresForwardedForFromClients(t *testing.T) {
	e := newTestRouter(t, memory.NewCredentialStore())

	for i := 0; i < 3; i++ {
		xff := map[string]string{echo.HeaderXForwardedFor: fmt.Sprintf("203.0.113.%d", i+1)}
		if rec := doFrom(e, "198.51.100.7:5000", http.MethodPost, "/api/auth/signup", signupBody(i), xff); rec.Code != http.StatusCreated {
			t.Fatalf("signup %d: expected 201, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	xff := map[string]string{echo.HeaderXForwardedFor: "203.0.113.99", echo.HeaderXRealIP: "203.0.113.98"}
	rec := doFrom(e, "198.51.100.7:5000", http.MethodPost, "/api/auth/signup", signupBody(3), xff)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 despite rotated forwarding headers, got %d", rec.Code)
	}
}

func TestRouter_TrustedProxyForwardsClientAddress(t *testing.T) {
	_, proxies, err := net.ParseCIDR("10.1.0.0/16")
	if err != nil {
		t.Fatal(err)
	}
	e := newTestRouterWithProxies(t, memory.NewCredentialStore(), []*net.IPNet{proxies})

	// Distinct clients behind the proxy each get their own window.
	for i := 0; i < 4; i++ {
		xff := map[string]string{echo.HeaderXForwardedFor: fmt.Sprintf("203.0.113.%d", i+1)}
		if rec := doFrom(e, "10.1.2.3:5000", http.MethodPost, "/api/auth/signup", signupBody(i), xff); rec.Code != http.StatusCreated {
			t.Fatalf("signup %d via proxy: expected 201, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	// A peer outside the proxy range cannot spoof its address.
	for i := 10; i < 13; i++ {
		xff := map[string]string{echo.HeaderXForwardedFor: fmt.Sprintf("203.0.113.%d", i)}
		if rec := doFrom(e, "198.51.100.7:5000", http.MethodPost, "/api/auth/signup", signupBody(i), xff); rec.Code != http.StatusCreated {
			t.Fatalf("direct signup %d: expected 201, got %d", i, rec.Code)
		}
	}
	xff := map[string]string{echo.HeaderXForwardedFor: "203.0.113.200"}
	if rec := doFrom(e, "198.51.100.7:5000", http.MethodPost, "/api/auth/signup", signupBody(13), xff); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for untrusted peer, got %d", rec.Code)
	}
}
