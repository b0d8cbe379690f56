package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims, key []byte) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "casewatch",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "worker@example.org",
		Roles: []string{RolePublicHealth},
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims, testKey))
	c := e.NewContext(req, httptest.NewRecorder())

	var gotID, gotEmail string
	h := JWTMiddleware(JWTConfig{Issuer: "casewatch", SigningKey: testKey})(func(c echo.Context) error {
		gotID = UserIDFromContext(c.Request().Context())
		gotEmail = EmailFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "user-42" || gotEmail != "worker@example.org" {
		t.Errorf("unexpected identity %q %q", gotID, gotEmail)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"wrong key", "Bearer " + signToken(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, []byte("other"))},
		{"expired", "Bearer " + signToken(t, expired, testKey)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			h := JWTMiddleware(JWTConfig{SigningKey: testKey})(func(echo.Context) error { return nil })
			err := h(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %v", err)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		roles []string
		allow bool
	}{
		{[]string{RoleAdmin}, true},
		{[]string{RolePublicHealth}, true},
		{[]string{RoleEnroller}, false},
		{nil, false},
	}
	for _, tt := range tests {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUser(req.Context(), &Claims{Roles: tt.roles}))
		c := e.NewContext(req, httptest.NewRecorder())

		err := RequireRole(RolePublicHealth, RoleAnalyst)(func(echo.Context) error { return nil })(c)
		if tt.allow && err != nil {
			t.Errorf("roles %v: expected allow, got %v", tt.roles, err)
		}
		if !tt.allow && err == nil {
			t.Errorf("roles %v: expected forbidden", tt.roles)
		}
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	var roles []string
	_ = DevAuthMiddleware()(func(c echo.Context) error {
		roles = RolesFromContext(c.Request().Context())
		return nil
	})(c)
	if !HasRole(roles, RoleAnalyst) {
		t.Errorf("dev user should be admin, got %v", roles)
	}
}
