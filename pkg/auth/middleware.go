// Package auth provides authentication and authorization middleware.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentictrust/actiongate/pkg/types"
)

type contextKey string

const userKey contextKey = "user_id"

// UserFromContext extracts the authenticated user ID from the context.
func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

// WithUser returns a context carrying the given user ID; used by tests and
// internal callers that bypass the HTTP layer.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// APIKeyAuth returns middleware that validates API keys and sets user context.
// Health probes and webhook ingress are exempt: webhooks authenticate by
// body signature instead.
func APIKeyAuth(keys *KeyStore) func(http.Handler) http.Handler {
	skipPaths := map[string]bool{
		"/healthz": true,
		"/readyz":  true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/v1/hooks/") {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				// Also check Authorization: Bearer
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}

			userID, ok := keys.Lookup(apiKey)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
