package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func buyerClaims(uid string, expiresAt time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    uid,
		"email":  uid + "@example.com",
		"role":   "buyer",
		"locale": "vi",
		"exp":    expiresAt.Unix(),
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestVerifyValidToken(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	tokenStr := signToken(t, buyerClaims("buyer-1", time.Now().Add(time.Hour)))
	identity, err := authn.Verify(tokenStr)
	if err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}
	if identity.UID != "buyer-1" {
		t.Fatalf("unexpected uid %q", identity.UID)
	}
	if identity.Email != "buyer-1@example.com" {
		t.Fatalf("unexpected email %q", identity.Email)
	}
	if identity.Locale != "vi" {
		t.Fatalf("unexpected locale %q", identity.Locale)
	}
	if !identity.HasRole(RoleBuyer) {
		t.Fatalf("expected buyer role, got %v", identity.Roles)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	tokenStr := signToken(t, buyerClaims("buyer-1", time.Now().Add(-time.Hour)))
	if _, err := authn.Verify(tokenStr); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	authn, err := NewAuthenticator([]byte("another-secret"))
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	tokenStr := signToken(t, buyerClaims("buyer-1", time.Now().Add(time.Hour)))
	if _, err := authn.Verify(tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRequiresSubject(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	tokenStr := signToken(t, jwt.MapClaims{
		"role": "buyer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if _, err := authn.Verify(tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyFallbackRole(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	tokenStr := signToken(t, jwt.MapClaims{
		"sub": "buyer-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	identity, err := authn.Verify(tokenStr)
	if err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}
	if !identity.HasRole(RoleBuyer) {
		t.Fatalf("expected fallback buyer role, got %v", identity.Roles)
	}
}

func TestRequireAuthInjectsIdentity(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	var seen *Identity
	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, buyerClaims("buyer-1", time.Now().Add(time.Hour))))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if seen == nil || seen.UID != "buyer-1" {
		t.Fatalf("expected identity on context, got %#v", seen)
	}
}

func TestRequireAuthMissingHeader(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireAuthRoleRestriction(t *testing.T) {
	authn, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	handler := authn.RequireAuth(RoleSeller)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/statistics", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, buyerClaims("buyer-1", time.Now().Add(time.Hour))))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for missing role, got %d", rr.Code)
	}

	sellerClaims := jwt.MapClaims{
		"sub":  "seller-1",
		"role": []any{"seller"},
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/orders/statistics", nil)
	req2.Header.Set("Authorization", "Bearer "+signToken(t, sellerClaims))

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusOK {
		t.Fatalf("expected status 200 for seller role, got %d", rr2.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc.def.ghi", token: "abc.def.ghi", ok: true},
		{header: "bearer abc.def.ghi", token: "abc.def.ghi", ok: true},
		{header: "Basic dXNlcjpwYXNz", ok: false},
		{header: "Bearer ", ok: false},
		{header: "", ok: false},
	}

	for _, tc := range cases {
		token, ok := extractBearerToken(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("header %q: expected (%q, %v), got (%q, %v)", tc.header, tc.token, tc.ok, token, ok)
		}
	}
}
