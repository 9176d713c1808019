// Package router wires the case API routes and applies the middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/damnfork/cases/internal/auth/apikey"
	"github.com/damnfork/cases/internal/auth/ratelimit"
	gwmw "github.com/damnfork/cases/internal/gateway/middleware"
	"github.com/damnfork/cases/internal/searcher/handler"
	"github.com/damnfork/cases/pkg/health"
	pkgmw "github.com/damnfork/cases/pkg/middleware"
	"github.com/damnfork/cases/pkg/metrics"
)

// Deps are the components the router dispatches to. Health and Metrics are
// optional.
type Deps struct {
	Handler        *handler.Handler
	Directory      *apikey.Directory
	Limiters       *ratelimit.Registry
	Health         *health.Checker
	Metrics        *metrics.Metrics
	MetricsPath    string
	TokenHeader    string
	RequestTimeout time.Duration
}

// New builds the HTTP handler.
//
// Route table:
//
//	GET    /api/search             ranked, hydrated search page
//	GET    /api/case/{id}          single case record
//	GET    /api/stats              stored case count
//	GET    /api/cache/stats        query cache counters
//	POST   /api/cache/invalidate   drop cached query pages
//	GET    /health/live            liveness
//	GET    /health/ready           readiness
//	GET    /metrics                Prometheus scrape
//
// Middleware chain (outermost first):
//
//	RequestID → Recoverer → Metrics → CORS → Compress → Auth → RateLimit → Timeout → handler
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if d.Metrics != nil {
		r.Use(pkgmw.Metrics(d.Metrics))
	}
	r.Use(gwmw.CORS(gwmw.DefaultCORSConfig(d.TokenHeader)))
	r.Use(chimw.Compress(5, "application/json"))

	// Admission only guards the API so probes and scrapes stay reachable
	// wherever the metrics path is mounted.
	r.Route("/api", func(r chi.Router) {
		r.Use(gwmw.Auth(d.Directory, d.TokenHeader, d.Metrics))
		r.Use(gwmw.RateLimit(d.Limiters, d.Metrics))
		if d.RequestTimeout > 0 {
			r.Use(pkgmw.Timeout(d.RequestTimeout))
		}

		r.Get("/search", d.Handler.Search)
		r.Get("/case/{id}", d.Handler.Case)
		r.Get("/stats", d.Handler.Stats)
		r.Get("/cache/stats", d.Handler.CacheStats)
		r.Post("/cache/invalidate", d.Handler.CacheInvalidate)
	})

	if d.Health != nil {
		r.Get("/health/live", d.Health.LiveHandler())
		r.Get("/health/ready", d.Health.ReadyHandler())
	}
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics.Handler())
	}

	return r
}
