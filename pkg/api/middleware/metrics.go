package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, keeping arbitrary probe
// paths out of the metric labels.
const unmatchedRoute = "unmatched"

// MetricsRecorder records one observation per HTTP request. The context
// carries the request's span for exemplars.
type MetricsRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, route, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics records request counts and latency labeled by chi route pattern,
// so /api/v1/logs/3/trim and /api/v1/logs/4/trim share one series. The
// scrape endpoint and the event stream are not recorded.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/api/v1/events" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			sw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			panicked := true
			defer func() {
				status := sw.statusCode
				if panicked {
					status = http.StatusInternalServerError
				}
				recorder.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), strconv.Itoa(status), time.Since(start))
			}()

			next.ServeHTTP(sw, r)
			panicked = false
		})
	}
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}
