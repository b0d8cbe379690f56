package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey       contextKey = "user_id"
	UserEmailKey    contextKey = "user_email"
	UserRolesKey    contextKey = "user_roles"
	JurisdictionKey contextKey = "user_jurisdiction"
)

// Claims is the JWT payload issued to case workers.
type Claims struct {
	jwt.RegisteredClaims
	Email          string   `json:"email"`
	Roles          []string `json:"roles"`
	JurisdictionID string   `json:"jurisdiction_id"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware validates HS256 bearer tokens and places the user identity
// on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), claims)))
			return next(c)
		}
	}
}

// DevAuthMiddleware grants an admin identity to every request. Only wired
// when ENV=development.
func DevAuthMiddleware() echo.MiddlewareFunc {
	dev := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-user"},
		Email:            "dev@casewatch.local",
		Roles:            []string{RoleAdmin},
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), dev)))
			return next(c)
		}
	}
}

// WithUser stores the identity from claims on ctx.
func WithUser(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
	ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
	ctx = context.WithValue(ctx, JurisdictionKey, claims.JurisdictionID)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func JurisdictionFromContext(ctx context.Context) string {
	jid, _ := ctx.Value(JurisdictionKey).(string)
	return jid
}

// JurisdictionIDFromContext parses the caller's jurisdiction claim. It
// returns uuid.Nil for callers without one, who are unrestricted.
func JurisdictionIDFromContext(ctx context.Context) uuid.UUID {
	id, err := uuid.Parse(JurisdictionFromContext(ctx))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// ActorFromContext names the caller in audit entries: the email when
// known, otherwise the subject.
func ActorFromContext(ctx context.Context) string {
	if email := EmailFromContext(ctx); email != "" {
		return email
	}
	return UserIDFromContext(ctx)
}
