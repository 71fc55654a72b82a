package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/brightpath/backend/internal/contextkeys"
	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/handler"
)

// TokenVerifier validates bearer tokens. Implemented by service.AuthService.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.JWTClaims, error)
}

// Auth creates a JWT authentication middleware. The raw token is kept in the
// context so outbound backend calls act on behalf of the caller.
func Auth(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "no token provided"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization header"})
				return
			}

			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.UserID, claims.Sub)
			ctx = context.WithValue(ctx, contextkeys.UserEmail, claims.Email)
			ctx = context.WithValue(ctx, contextkeys.UserRole, claims.Role)
			ctx = context.WithValue(ctx, contextkeys.AuthToken, parts[1])
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
