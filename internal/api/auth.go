package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// BearerAuth guards the /v1 routes with the local API token. An empty token
// locks the routes with 503 so a server started without a token never runs
// open. The scheme name is matched case-insensitively.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				httpError(w, http.StatusServiceUnavailable, "authentication_error", "API token is not configured")
				return
			}
			got, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Debug("rejected request", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "has_credentials", ok)
				w.Header().Set("WWW-Authenticate", `Bearer realm="edgecoach"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential from an Authorization header value.
func bearerToken(header string) (string, bool) {
	scheme, cred, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}
