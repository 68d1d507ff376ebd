package httptransport

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// RequireAPIKey checks the bearer token against key. An empty key rejects
// every request with 503.
func RequireAPIKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if key == "" {
				logger.ErrorContext(ctx, "api key not configured, rejecting request", "path", r.URL.Path)
				writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "Server configuration error: API key not set")
				return
			}
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				logger.WarnContext(ctx, "unauthorized access - invalid api key", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid API Key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
