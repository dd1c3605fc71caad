// Package mw contains HTTP middleware for the status API.
package mw

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmylchreest/refyne-harvest/internal/auth"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// OperatorClaimsKey is the context key for operator claims.
	OperatorClaimsKey ContextKey = "operator_claims"
)

// OperatorClaims identifies the caller of a protected endpoint.
type OperatorClaims struct {
	Subject string
	Scopes  []string
}

// anonymous is attached when unauthenticated access is allowed.
var anonymous = &OperatorClaims{Subject: "anonymous", Scopes: []string{"*"}}

// HasScope checks if the operator holds a scope.
// Supports wildcard patterns with a trailing asterisk (e.g., "run:*").
func (c *OperatorClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == "*" || s == scope {
			return true
		}
		if prefix, ok := strings.CutSuffix(s, "*"); ok && strings.HasPrefix(scope, prefix) {
			return true
		}
	}
	return false
}

// GetOperatorClaims retrieves operator claims from context.
func GetOperatorClaims(ctx context.Context) *OperatorClaims {
	claims, ok := ctx.Value(OperatorClaimsKey).(*OperatorClaims)
	if !ok {
		return nil
	}
	return claims
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// Verifier validates bearer tokens (optional when AllowUnauthenticated).
	Verifier *auth.Verifier

	// AllowUnauthenticated lets requests without a token through with full scope.
	AllowUnauthenticated bool

	// Logger for auth events
	Logger *slog.Logger
}

// Auth returns middleware that validates an HS256 bearer token and stores
// the operator claims in the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if authHeader == "" && cfg.AllowUnauthenticated {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), OperatorClaimsKey, anonymous)))
				return
			}
			if cfg.Verifier == nil {
				http.Error(w, `{"error":"authentication not configured"}`, http.StatusUnauthorized)
				return
			}
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := cfg.Verifier.VerifyToken(token)
			if err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Debug("JWT validation failed", "error", err)
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), OperatorClaimsKey, &OperatorClaims{
				Subject: claims.Subject,
				Scopes:  claims.Scopes(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns middleware that requires a scope on the operator.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetOperatorClaims(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !claims.HasScope(scope) {
				writeScopeError(w, scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeScopeError writes a missing-scope error response.
func writeScopeError(w http.ResponseWriter, scope string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   "insufficient_scope",
		"message": "The token does not grant this operation",
		"scope":   scope,
	})
}
