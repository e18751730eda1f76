package handlers

import (
	"context"
	"net/http"
	"time"

	"tlcharts/pkg/httputil"
)

const readinessTimeout = 5 * time.Second

func (a *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	a.ok(w, "Healthz", map[string]any{})
}

// Check health external services/clients
func (a *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if a.readiness == nil {
		a.ok(w, "Readiness", map[string]any{"dependencies": map[string]string{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status, err := a.readiness.Check(ctx)
	if err != nil {
		err = httputil.Error(w, r, http.StatusServiceUnavailable, "dependencies_unhealthy", "dependencies check failed", map[string]any{
			"dependencies": status,
		})
		if err != nil {
			a.Log.Errorf("Readiness handler error: %s", err.Error())
		}
		return
	}

	a.ok(w, "Readiness", map[string]any{"dependencies": status})
}
