package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/R3E-Network/patient_portal/internal/logging"
)

// TraceHeader carries the request trace ID in both directions.
const TraceHeader = "X-Trace-ID"

// requestScope collects what inner middleware learn about a request so the
// access log line written on the way out can include it.
type requestScope struct {
	browserID string
}

type scopeKey struct{}

// bindBrowser records the browser ID on the request's access log line.
func bindBrowser(ctx context.Context, browserID string) {
	if scope, ok := ctx.Value(scopeKey{}).(*requestScope); ok {
		scope.browserID = browserID
	}
}

// RequestLog tags each request with a trace ID and writes one access log
// line when the handler chain returns. Mount it outermost.
type RequestLog struct {
	logger *logging.Logger
}

// NewRequestLog creates the access log middleware.
func NewRequestLog(logger *logging.Logger) *RequestLog {
	return &RequestLog{logger: logger}
}

// Handler returns the middleware handler
func (m *RequestLog) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set(TraceHeader, traceID)

		scope := &requestScope{}
		ctx := context.WithValue(logging.WithTraceID(r.Context(), traceID), scopeKey{}, scope)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))

		if scope.browserID != "" {
			ctx = logging.WithBrowserID(ctx, scope.browserID)
		}
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
