package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"tlcharts/internal/domain"
	"tlcharts/pkg/httputil"
)

const (
	maxChartBody   = 16 << 10
	maxSearchLimit = 50
)

var errBadParam = errors.New("invalid query parameter")

type chartRequest struct {
	Query string `json:"query"`
}

// POST /api/nlp-chart
func (a *Handler) NLPChart(w http.ResponseWriter, r *http.Request) {
	var req chartRequest
	if err := httputil.DecodeJSON(w, r, &req, maxChartBody); err != nil {
		a.fail(w, r, "NLPChart", err)
		return
	}

	resp, err := a.charts.Generate(r.Context(), req.Query)
	if err != nil {
		a.fail(w, r, "NLPChart", err)
		return
	}

	a.ok(w, "NLPChart", resp)
}

// GET /api/search?q=&limit=, without limit the index uses its configured top_k
func (a *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0, 1, maxSearchLimit)
	if err != nil {
		a.fail(w, r, "Search", err)
		return
	}

	res, err := a.charts.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		a.fail(w, r, "Search", err)
		return
	}
	if res.APIs == nil {
		res.APIs = []domain.APIDescriptor{}
	}

	a.ok(w, "Search", res)
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be an integer in [%d, %d]", errBadParam, name, lo, hi)
	}
	return n, nil
}
