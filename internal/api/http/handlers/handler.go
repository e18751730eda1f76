package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"tlcharts/internal/catalog"
	"tlcharts/internal/chartspec"
	"tlcharts/internal/domain"
	"tlcharts/internal/service"
	"tlcharts/internal/topledger"
	"tlcharts/internal/window"
	"tlcharts/pkg/httputil"

	"gitlab.com/nevasik7/alerting/logger"
)

type Charts interface {
	Generate(ctx context.Context, query string) (*domain.ChartResponse, error)
	Search(ctx context.Context, query string, limit int) (domain.SearchResult, error)
	CacheSize(ctx context.Context) (int, error)
}

type Data interface {
	Series(ctx context.Context, req service.DataRequest) (*service.DataResponse, error)
	CSV(ctx context.Context, w io.Writer, req service.DataRequest) error
}

type Stats interface {
	Summary() window.Summary
}

type Readiness interface {
	Check(ctx context.Context) (map[string]string, error)
}

type Deps struct {
	Log       logger.Logger
	Charts    Charts
	Data      Data // nil disables the data endpoints
	Catalog   service.Catalog
	Stats     Stats
	Readiness Readiness
}

type Handler struct {
	Log       logger.Logger
	charts    Charts
	data      Data
	catalog   service.Catalog
	stats     Stats
	readiness Readiness
}

func NewHandler(d Deps) *Handler {
	if d.Charts == nil || d.Catalog == nil {
		panic("chart service and catalog cannot be nil")
	}

	return &Handler{
		Log:       d.Log,
		charts:    d.Charts,
		data:      d.Data,
		catalog:   d.Catalog,
		stats:     d.Stats,
		readiness: d.Readiness,
	}
}

func (a *Handler) ok(w http.ResponseWriter, name string, body any) {
	if err := httputil.JSON(w, http.StatusOK, body, nil); err != nil {
		a.Log.Errorf("%s handler error: %s", name, err.Error())
	}
}

// fail maps service errors onto status codes
func (a *Handler) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.Log.Errorf("%s handler failed: %v", name, err)
	} else {
		a.Log.Debugf("%s handler rejected request: %v", name, err)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if werr := httputil.Error(w, r, status, code, msg, nil); werr != nil {
		a.Log.Errorf("%s handler error: %s", name, werr.Error())
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, service.ErrQueryTooLong),
		errors.Is(err, service.ErrBadRange),
		errors.Is(err, httputil.ErrBadBody),
		errors.Is(err, errBadParam),
		errors.Is(err, topledger.ErrMissingColumn),
		errors.Is(err, topledger.ErrUnknownShape):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, chartspec.ErrNoMatchingAPIs):
		return http.StatusNotFound, "no_matching_apis"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrNoTimeAxis):
		return http.StatusUnprocessableEntity, "no_time_axis"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, topledger.ErrUpstream), errors.Is(err, topledger.ErrBadResponse):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
