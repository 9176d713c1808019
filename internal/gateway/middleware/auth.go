// Package middleware provides the HTTP admission chain for the case API:
// token resolution, per-identity rate limiting and CORS.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/damnfork/cases/internal/auth/apikey"
	apperrors "github.com/damnfork/cases/pkg/errors"
	"github.com/damnfork/cases/pkg/logger"
	"github.com/damnfork/cases/pkg/metrics"
)

const bearerPrefix = "Bearer "

// ExtractToken reads the caller's token in priority order: an
// "Authorization: Bearer" header, then altHeader. presented is true even for
// an empty Bearer value.
func ExtractToken(r *http.Request, altHeader string) (token string, presented bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimPrefix(auth, bearerPrefix), true
	}
	if altHeader != "" {
		if values := r.Header.Values(altHeader); len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// Exempt reports whether path skips admission. Probes and scrapes must keep
// working for callers that are out of quota.
func Exempt(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

// Auth resolves the request's identity and stores it on the context. A
// presented token that the directory does not know is rejected with 401
// before any limiter is touched.
func Auth(dir *apikey.Directory, tokenHeader string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, presented := ExtractToken(r, tokenHeader)
			id, err := dir.Resolve(token, presented)
			if err != nil {
				if m != nil {
					m.RateLimitDecisions.WithLabelValues("unauthorized").Inc()
				}
				logger.FromContext(r.Context()).Debug("unknown api token", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, apperrors.CodeUnauthorized, "Invalid API token")
				return
			}

			next.ServeHTTP(w, r.WithContext(apikey.WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
