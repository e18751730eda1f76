package http

import (
	"net/http"

	"tlcharts/internal/api/http/handlers"
	"tlcharts/internal/api/http/mw"
	"tlcharts/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Middlewares struct {
	Log       *mw.LoggingMiddleware
	Gzip      *mw.GzipMiddleware
	RateLimit *mw.RateLimitMiddleware // nil when rate limiting is disabled
	JWT       *mw.JWTMiddleware       // nil when auth is disabled
	CORS      *mw.CORSMiddleware
}

func BuildRouter(h *handlers.Handler, m Middlewares, metrics http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if m.Log != nil {
		r.Use(m.Log.Handler)
	}
	if m.Gzip != nil {
		r.Use(m.Gzip.Handler)
	}
	if m.CORS != nil {
		r.Use(m.CORS.Handler())
	}

	// tech endpoint not auth
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.Readiness)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// api with rate limit and jwt
	r.Route("/api", func(api chi.Router) {
		if m.RateLimit != nil {
			api.Use(m.RateLimit.Handler)
		}
		if m.JWT != nil {
			api.Use(m.JWT.Handler)
		}

		api.Group(func(charts chi.Router) {
			charts.Use(mw.RequireScope(security.ScopeCharts))

			charts.Post("/nlp-chart", h.NLPChart)
			charts.Get("/search", h.Search)
			charts.Get("/catalog", h.Catalog)
			charts.Get("/catalog/{id}", h.CatalogEntry)
			charts.Get("/analytics/summary", h.AnalyticsSummary)
		})

		api.Group(func(data chi.Router) {
			data.Use(mw.RequireScope(security.ScopeData))

			data.Get("/apis/{id}/data", h.APIData)
			data.Get("/apis/{id}/data.csv", h.APIDataCSV)
		})
	})

	return r
}
