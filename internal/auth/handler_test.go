package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"amd-platform/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	op, err := NewOperatorWithHash(" Ops@Example.com ", string(hash), "admin")
	if err != nil {
		t.Fatalf("operator: %v", err)
	}
	return NewDirectory(op)
}

func TestDirectory_Authenticate(t *testing.T) {
	d := newTestDirectory(t)

	op, err := d.Authenticate("ops@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if op.Email != "ops@example.com" || op.Role != "admin" {
		t.Fatalf("unexpected operator: %+v", op)
	}
	if _, err := d.Authenticate("ops@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := d.Authenticate("nobody@example.com", "s3cret"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestNewOperatorWithHash_RejectsPlaintext(t *testing.T) {
	if _, err := NewOperatorWithHash("a@b.c", "plaintext", "admin"); err == nil {
		t.Fatalf("expected error for non-bcrypt hash")
	}
	if _, err := NewOperator("a@b.c", "", "admin"); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func newAuthRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h := Handler{Manager: m, Operators: newTestDirectory(t)}

	r := gin.New()
	r.POST("/login", h.Login)
	r.POST("/refresh", h.Refresh)
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		uid, _ := UserID(c.Request.Context())
		role, _ := Role(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
	})
	return r, m
}

type tokenResponse struct {
	Tokens TokenPair `json:"tokens"`
	Role   string    `json:"role"`
}

func TestLoginThenAccessProtectedRoute(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ops@example.com","password":"s3cret"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Role != "admin" || out.Tokens.AccessToken == "" {
		t.Fatalf("unexpected login response: %+v", out)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+out.Tokens.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"admin"`) {
		t.Fatalf("expected identity in context, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader(`{"refresh_token":"`+out.Tokens.RefreshToken+`"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected refresh 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ops@example.com","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRequireAccessToken_RejectsMissingAndRefreshTokens(t *testing.T) {
	r, m := newAuthRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	pair, err := m.IssuePair(time.Now(), "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for refresh token, got %d", w.Code)
	}
}
