// Package mw contains HTTP middleware for the sound lab API.
package mw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/auth"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
)

// UserClaims is the authenticated caller.
type UserClaims struct {
	UserID string
	Email  string
	Admin  bool // app_metadata.role == admin
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Auth returns middleware that requires a valid bearer token.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := validateToken(verifier, token)
			if err != nil {
				slog.Debug("auth validation failed", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			ctx = logging.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(verifier TokenVerifier, token string) (*UserClaims, error) {
	if verifier == nil {
		return nil, auth.ErrInvalidToken
	}
	c, err := verifier.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return &UserClaims{
		UserID: c.UserID(),
		Email:  c.Email,
		Admin:  c.IsAdmin(),
	}, nil
}

// GetUserClaims retrieves user claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// RequireAdmin returns middleware that requires the admin role. Apply after Auth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserClaims(r.Context())
			if claims == nil || !claims.Admin {
				writeJSONError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
