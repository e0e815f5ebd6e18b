package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/yashasviy/ledger-api/auth"
)

// TokenVerifier resolves a bearer token to its claims.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

type callerKey struct{}

// CallerID returns the authenticated user id placed on the context by RequireAuth.
func CallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok && id != ""
}

// WithCallerID puts an already authenticated user id on ctx.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				log.Printf("[Auth] Rejected token: %v", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCallerID(r.Context(), claims.Subject)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": message,
	})
}
