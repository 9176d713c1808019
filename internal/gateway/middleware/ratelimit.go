package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/damnfork/cases/internal/auth/apikey"
	"github.com/damnfork/cases/internal/auth/ratelimit"
	apperrors "github.com/damnfork/cases/pkg/errors"
	"github.com/damnfork/cases/pkg/metrics"
)

// RateLimit admits requests against the identity stored by Auth. It must run
// after Auth; a request without an identity is a wiring fault and fails
// closed.
func RateLimit(reg *ratelimit.Registry, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := apikey.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Internal server error")
				return
			}

			d := reg.Admit(id.Key, id.Quota)
			if m != nil {
				m.ActiveLimiters.Set(float64(reg.Len()))
			}
			if !d.Allowed {
				if m != nil {
					m.RateLimitDecisions.WithLabelValues("limited").Inc()
				}
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, apperrors.CodeRateLimited,
					"Rate limit exceeded. Please try again later.")
				return
			}
			if m != nil {
				m.RateLimitDecisions.WithLabelValues("allowed").Inc()
			}
			next.ServeHTTP(w, r)
		})
	}
}
