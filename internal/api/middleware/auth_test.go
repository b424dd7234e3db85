package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/welcome-kiosk/internal/auth"
)

// testSecret — HMAC секрет для тестов.
const testSecret = "0123456789abcdef0123456789abcdef"

// generateTestToken подписывает claims секретом (HS256).
func generateTestToken(secret string, claims auth.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// newTestJWTAuth создаёт JWTAuth с TokenIssuer для тестов.
func newTestJWTAuth(t *testing.T) (*JWTAuth, *auth.TokenIssuer) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuth(issuer, 5*time.Second, logger), issuer
}

func mustNotCall(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	})
}

// TestJWTAuth_ValidToken проверяет токен, выпущенный TokenIssuer.
func TestJWTAuth_ValidToken(t *testing.T) {
	mw, issuer := newTestJWTAuth(t)
	handler := mw.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sub := SubjectFromContext(r.Context()); sub != auth.SubjectAdmin {
			t.Errorf("ожидался sub=%s, получен %s", auth.SubjectAdmin, sub)
		}
		scopes := ScopesFromContext(r.Context())
		if len(scopes) != 1 || scopes[0] != auth.ScopeAdmin {
			t.Errorf("неожиданные scopes: %v", scopes)
		}
		w.WriteHeader(http.StatusOK)
	}))

	token, _, err := issuer.Issue(auth.SubjectAdmin, auth.ScopeAdmin)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestJWTAuth_MissingToken проверяет отсутствие Authorization header.
func TestJWTAuth_MissingToken(t *testing.T) {
	mw, _ := newTestJWTAuth(t)
	handler := mw.Middleware()(mustNotCall(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestJWTAuth_RejectedTokens проверяет просроченные и чужие токены.
func TestJWTAuth_RejectedTokens(t *testing.T) {
	mw, _ := newTestJWTAuth(t)
	handler := mw.Middleware()(mustNotCall(t))

	expired, _ := generateTestToken(testSecret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   auth.SubjectAdmin,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		ScopeString: auth.ScopeAdmin,
	})
	foreign, _ := generateTestToken("ffffffffffffffffffffffffffffffff", auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   auth.SubjectAdmin,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ScopeString: auth.ScopeAdmin,
	})
	noExp, _ := generateTestToken(testSecret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: auth.SubjectAdmin},
		ScopeString:      auth.ScopeAdmin,
	})
	noSub, _ := generateTestToken(testSecret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ScopeString: auth.ScopeAdmin,
	})

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"foreign secret", foreign},
		{"no exp", noExp},
		{"no sub", noSub},
		{"garbage", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestJWTAuth_InvalidFormat проверяет некорректный формат Authorization.
func TestJWTAuth_InvalidFormat(t *testing.T) {
	mw, _ := newTestJWTAuth(t)
	handler := mw.Middleware()(mustNotCall(t))

	tests := []struct {
		name   string
		header string
	}{
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"no bearer prefix", "token123"},
		{"empty bearer", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestRequireScope_HasScope проверяет наличие нужного scope.
func TestRequireScope_HasScope(t *testing.T) {
	handler := RequireScope(auth.ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx := context.WithValue(context.Background(), ContextKeyScopes, []string{"kiosk:view", auth.ScopeAdmin})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

// TestRequireScope_MissingScope проверяет отсутствие нужного scope.
func TestRequireScope_MissingScope(t *testing.T) {
	handler := RequireScope(auth.ScopeAdmin)(mustNotCall(t))

	ctx := context.WithValue(context.Background(), ContextKeyScopes, []string{"kiosk:view"})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("ожидался статус 403, получен %d", rec.Code)
	}
}

// TestRequireScope_NoScopes проверяет отсутствие scopes в контексте.
func TestRequireScope_NoScopes(t *testing.T) {
	handler := RequireScope(auth.ScopeAdmin)(mustNotCall(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("ожидался статус 403, получен %d", rec.Code)
	}
}

func TestSubjectFromContext_Empty(t *testing.T) {
	if sub := SubjectFromContext(context.Background()); sub != "" {
		t.Errorf("ожидалась пустая строка, получено %q", sub)
	}
}

func TestSubjectFromContext_WithValue(t *testing.T) {
	ctx := context.WithValue(context.Background(), ContextKeySubject, "admin")
	if sub := SubjectFromContext(ctx); sub != "admin" {
		t.Errorf("ожидалось admin, получено %q", sub)
	}
}
