package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tlcharts/internal/service"
	"tlcharts/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// GET /api/apis/{id}/data?from=&to=&columns=&shape=
func (a *Handler) APIData(w http.ResponseWriter, r *http.Request) {
	if !a.dataEnabled(w, r) {
		return
	}

	req, err := dataRequest(r)
	if err != nil {
		a.fail(w, r, "APIData", err)
		return
	}

	resp, err := a.data.Series(r.Context(), req)
	if err != nil {
		a.fail(w, r, "APIData", err)
		return
	}

	a.ok(w, "APIData", resp)
}

// GET /api/apis/{id}/data.csv?from=&to=&columns=
func (a *Handler) APIDataCSV(w http.ResponseWriter, r *http.Request) {
	if !a.dataEnabled(w, r) {
		return
	}

	req, err := dataRequest(r)
	if err != nil {
		a.fail(w, r, "APIDataCSV", err)
		return
	}

	// fetch fully before writing so a failure can still become a json error
	var buf bytes.Buffer
	if err := a.data.CSV(r.Context(), &buf, req); err != nil {
		a.fail(w, r, "APIDataCSV", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.APIID+".csv"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.Log.Errorf("APIDataCSV handler error: %s", err.Error())
	}
}

func (a *Handler) dataEnabled(w http.ResponseWriter, r *http.Request) bool {
	if a.data != nil {
		return true
	}
	if err := httputil.Error(w, r, http.StatusNotImplemented, "data_disabled", "topledger data access is not configured", nil); err != nil {
		a.Log.Errorf("data handler error: %s", err.Error())
	}
	return false
}

func dataRequest(r *http.Request) (service.DataRequest, error) {
	q := r.URL.Query()

	from, err := parseDateParam(q.Get("from"), false)
	if err != nil {
		return service.DataRequest{}, fmt.Errorf("%w: from: %v", errBadParam, err)
	}
	to, err := parseDateParam(q.Get("to"), true)
	if err != nil {
		return service.DataRequest{}, fmt.Errorf("%w: to: %v", errBadParam, err)
	}

	var cols []string
	for _, c := range strings.Split(q.Get("columns"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}

	return service.DataRequest{
		APIID:   chi.URLParam(r, "id"),
		From:    from,
		To:      to,
		Columns: cols,
		Shape:   strings.TrimSpace(q.Get("shape")),
	}, nil
}

// parseDateParam accepts RFC3339 or a bare day; a bare upper bound covers the whole day
func parseDateParam(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
