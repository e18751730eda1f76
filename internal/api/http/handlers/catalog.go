package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GET /api/catalog
func (a *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	apis := a.catalog.All()
	a.ok(w, "Catalog", map[string]any{
		"apis":  apis,
		"total": len(apis),
	})
}

// GET /api/catalog/{id}
func (a *Handler) CatalogEntry(w http.ResponseWriter, r *http.Request) {
	desc, err := a.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, "CatalogEntry", err)
		return
	}
	a.ok(w, "CatalogEntry", desc)
}

// GET /api/analytics/summary
func (a *Handler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if a.stats != nil {
		out["windows"] = a.stats.Summary()
	}

	n, err := a.charts.CacheSize(r.Context())
	if err != nil {
		a.Log.Warnf("AnalyticsSummary cache size failed: %v", err)
	} else {
		out["cached_charts"] = n
	}

	a.ok(w, "AnalyticsSummary", out)
}
