package httpmw

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const AuthenticatedAdminContextKey = ContextKey("authenticatedAdmin")

// AuthenticatedAdmin identifies the caller of an admin API route.
// TenantID is empty for platform-wide operators.
type AuthenticatedAdmin struct {
	Subject  string
	TenantID string
	IsAdmin  bool
}

type adminClaims struct {
	TenantID string `json:"tenant_id,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates Bearer JWTs signed with the shared HMAC secret
// and places the resulting identity on the request context.
func AuthMiddleware(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := &adminClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			admin := AuthenticatedAdmin{
				Subject:  claims.Subject,
				TenantID: claims.TenantID,
				IsAdmin:  claims.IsAdmin,
			}

			ctx := context.WithValue(r.Context(), AuthenticatedAdminContextKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
