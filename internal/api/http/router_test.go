package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tlcharts/internal/api/http/handlers"
	"tlcharts/internal/api/http/mw"
	"tlcharts/internal/catalog"
	"tlcharts/internal/chartspec"
	"tlcharts/internal/domain"
	"tlcharts/internal/logging"
	"tlcharts/internal/service"
	"tlcharts/internal/topledger"
	"tlcharts/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCharts struct{ mock.Mock }

func (m *mockCharts) Generate(ctx context.Context, q string) (*domain.ChartResponse, error) {
	args := m.Called(ctx, q)
	resp, _ := args.Get(0).(*domain.ChartResponse)
	return resp, args.Error(1)
}

func (m *mockCharts) Search(ctx context.Context, q string, limit int) (domain.SearchResult, error) {
	args := m.Called(ctx, q, limit)
	return args.Get(0).(domain.SearchResult), args.Error(1)
}

func (m *mockCharts) CacheSize(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockData struct{ mock.Mock }

func (m *mockData) Series(ctx context.Context, req service.DataRequest) (*service.DataResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*service.DataResponse)
	return resp, args.Error(1)
}

func (m *mockData) CSV(ctx context.Context, w io.Writer, req service.DataRequest) error {
	args := m.Called(ctx, w, req)
	if s := args.String(0); s != "" {
		_, _ = io.WriteString(w, s)
	}
	return args.Error(1)
}

type staticReadiness struct {
	status map[string]string
	err    error
}

func (s staticReadiness) Check(context.Context) (map[string]string, error) { return s.status, s.err }

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		TraceID string `json:"trace_id"`
	} `json:"error"`
}

type testEnv struct {
	charts *mockCharts
	data   *mockData
	stats  *window.Stats
	router http.Handler
}

func newTestEnv(t *testing.T, ready staticReadiness) *testEnv {
	t.Helper()

	cat, err := catalog.New([]domain.APIDescriptor{{
		ID: "dex-volume", Title: "Daily DEX Volume", Domain: "solana", Page: "dex", QueryID: 1,
		Columns: []domain.Column{{Name: "block_date", Type: domain.ColumnDate}},
	}})
	require.NoError(t, err)

	env := &testEnv{charts: &mockCharts{}, data: &mockData{}, stats: window.New(logging.Noop())}
	h := handlers.NewHandler(handlers.Deps{
		Log:       logging.Noop(),
		Charts:    env.charts,
		Data:      env.data,
		Catalog:   cat,
		Stats:     env.stats,
		Readiness: ready,
	})
	env.router = BuildRouter(h, Middlewares{Log: mw.NewLogging(logging.Noop(), nil)}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics")
	}))

	t.Cleanup(func() {
		env.charts.AssertExpectations(t)
		env.data.AssertExpectations(t)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(method, target, rd))

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestNLPChart(t *testing.T) {
	env := newTestEnv(t, staticReadiness{})

	resp := &domain.ChartResponse{
		ChartSpec: domain.ChartSpec{ChartType: domain.ChartLine, Title: "Daily DEX Volume"},
		Source:    domain.SourceFallback,
	}
	env.charts.On("Generate", mock.Anything, "dex volume").Return(resp, nil).Once()
	env.charts.On("Generate", mock.Anything, "").Return(nil, service.ErrEmptyQuery).Once()
	env.charts.On("Generate", mock.Anything, "weather in paris").Return(nil, fmt.Errorf("build: %w", chartspec.ErrNoMatchingAPIs)).Once()
	env.charts.On("Generate", mock.Anything, "boom").Return(nil, errors.New("disk on fire")).Once()

	rec, body := env.do(t, http.MethodPost, "/api/nlp-chart", `{"query":"dex volume"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Status)
	var got domain.ChartResponse
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, domain.ChartLine, got.ChartSpec.ChartType)
	assert.Equal(t, domain.SourceFallback, got.Source)

	rec, body = env.do(t, http.MethodPost, "/api/nlp-chart", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body.Error.Code)
	assert.NotEmpty(t, body.Error.TraceID)

	rec, body = env.do(t, http.MethodPost, "/api/nlp-chart", `{"query":"weather in paris"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_matching_apis", body.Error.Code)

	rec, body = env.do(t, http.MethodPost, "/api/nlp-chart", `{"query":"boom"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body.Error.Message)

	// malformed bodies never reach the service
	for _, bad := range []string{`{`, `{"query":"x","extra":1}`, `{"query":"x"} {"query":"y"}`} {
		rec, _ = env.do(t, http.MethodPost, "/api/nlp-chart", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, staticReadiness{})

	env.charts.On("Search", mock.Anything, "volume", 3).
		Return(domain.SearchResult{TotalResults: 0}, nil).Once()

	rec, body := env.do(t, http.MethodGet, "/api/search?q=volume&limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"apis":[],"total_results":0,"execution_time_ms":0}`, string(body.Data))

	rec, _ = env.do(t, http.MethodGet, "/api/search?q=volume&limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no limit leaves the choice to the index top_k
	env.charts.On("Search", mock.Anything, "volume", 0).
		Return(domain.SearchResult{TotalResults: 0}, nil).Once()
	rec, _ = env.do(t, http.MethodGet, "/api/search?q=volume", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.charts.AssertExpectations(t)
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t, staticReadiness{})

	rec, body := env.do(t, http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body.Data), `"total":1`)

	rec, body = env.do(t, http.MethodGet, "/api/catalog/dex-volume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body.Data), `"dex-volume"`)

	rec, body = env.do(t, http.MethodGet, "/api/catalog/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestAPIDataEndpoints(t *testing.T) {
	env := newTestEnv(t, staticReadiness{})

	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 5, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)

	env.data.On("Series", mock.Anything, service.DataRequest{
		APIID: "dex-volume", From: from, To: to, Columns: []string{"volume_usd", "trades"},
	}).Return(&service.DataResponse{DateKey: "block_date", Points: []topledger.Point{}}, nil).Once()

	rec, body := env.do(t, http.MethodGet, "/api/apis/dex-volume/data?from=2024-01-02&to=2024-01-05&columns=volume_usd,%20trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body.Data), `"date_key":"block_date"`)

	env.data.On("Series", mock.Anything, mock.MatchedBy(func(r service.DataRequest) bool { return r.Shape == "bogus" })).
		Return(nil, fmt.Errorf("%w: bogus", topledger.ErrUnknownShape)).Once()
	rec, _ = env.do(t, http.MethodGet, "/api/apis/dex-volume/data?shape=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.data.On("Series", mock.Anything, mock.MatchedBy(func(r service.DataRequest) bool { return r.APIID == "down" })).
		Return(nil, fmt.Errorf("fetch down: %w", topledger.ErrUpstream)).Once()
	rec, body = env.do(t, http.MethodGet, "/api/apis/down/data", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_error", body.Error.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/apis/dex-volume/data?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.data.On("CSV", mock.Anything, mock.Anything, mock.MatchedBy(func(r service.DataRequest) bool { return r.APIID == "dex-volume" })).
		Return("block_date,volume_usd\n2024-01-02,10\n", nil).Once()
	rec, _ = env.do(t, http.MethodGet, "/api/apis/dex-volume/data.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `dex-volume.csv`)
	assert.Equal(t, "block_date,volume_usd\n2024-01-02,10\n", rec.Body.String())

	env.data.On("CSV", mock.Anything, mock.Anything, mock.MatchedBy(func(r service.DataRequest) bool { return r.APIID == "ghost" })).
		Return("", catalog.ErrNotFound).Once()
	rec, _ = env.do(t, http.MethodGet, "/api/apis/ghost/data.csv", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIData_DisabledWithoutFetcher(t *testing.T) {
	cat, err := catalog.New([]domain.APIDescriptor{{ID: "a", Title: "A", Domain: "solana", Page: "p", QueryID: 1}})
	require.NoError(t, err)

	h := handlers.NewHandler(handlers.Deps{Log: logging.Noop(), Charts: &mockCharts{}, Catalog: cat})
	router := BuildRouter(h, Middlewares{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/apis/a/data", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsSummary(t *testing.T) {
	env := newTestEnv(t, staticReadiness{})
	env.charts.On("CacheSize", mock.Anything).Return(4, nil).Once()

	require.NoError(t, env.stats.Append(context.Background(), domain.QueryLogRecord{
		Success: true, CacheHit: true, Source: domain.SourceCache, ProcessingTimeMs: 12, Timestamp: time.Now(),
	}))

	rec, body := env.do(t, http.MethodGet, "/api/analytics/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		CachedCharts int            `json:"cached_charts"`
		Windows      window.Summary `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, 4, got.CachedCharts)
	assert.EqualValues(t, 1, got.Windows.W5m.Queries)
	assert.EqualValues(t, 1, got.Windows.W24h.CacheHits)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, staticReadiness{status: map[string]string{"cache": "ok"}})

	rec, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/readiness", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"dependencies":{"cache":"ok"}}`, string(body.Data))

	rec, _ = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", rec.Body.String())

	down := newTestEnv(t, staticReadiness{
		status: map[string]string{"cache": "ok", "nats": "connection closed"},
		err:    errors.New("dependency check failed"),
	})
	rec, body = down.do(t, http.MethodGet, "/readiness", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "dependencies_unhealthy", body.Error.Code)
}
