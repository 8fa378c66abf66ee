package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/storage"
)

// BearerAuth resolves "Authorization: Bearer <token>" against the token store
// and puts the user id into the request context. Requests without a valid
// token get a JSON 401.
func BearerAuth(store storage.TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := store.UserIDByToken(r.Context(), token)
			if err != nil {
				logger.Errorf("bearer auth lookup token=%s: %v", MaskToken(token), err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the API token from the request.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// WebSocket upgrades from browsers cannot set headers; allow a query token.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
