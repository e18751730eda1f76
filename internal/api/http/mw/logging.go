package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gitlab.com/nevasik7/alerting/logger"
)

// RouteObserver counts responses per route pattern, implemented by metrics.Metrics
type RouteObserver interface {
	ObserveHTTP(route string, code int)
}

type LoggingMiddleware struct {
	Log     logger.Logger
	Metrics RouteObserver // optional
}

func NewLogging(log logger.Logger, m RouteObserver) *LoggingMiddleware {
	return &LoggingMiddleware{Log: log, Metrics: m}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingRW{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		dur := time.Since(start)

		if m.Metrics != nil {
			m.Metrics.ObserveHTTP(routePattern(r), lrw.status)
		}

		logf := m.Log.Infof
		if lrw.status >= http.StatusInternalServerError {
			logf = m.Log.Warnf
		}
		logf("http_request: method=%s path=%s status=%d size=%d dur_ms=%d ip=%s ua=%q req_id=%s",
			r.Method, r.URL.Path, lrw.status, lrw.size, dur.Milliseconds(),
			remoteAddrIP(r.RemoteAddr), r.UserAgent(), middleware.GetReqID(r.Context()))
	})
}

// pattern keeps metric labels bounded, unmatched paths share one label
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type loggingRW struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (w *loggingRW) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingRW) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *loggingRW) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggingRW) Unwrap() http.ResponseWriter { return w.ResponseWriter }
