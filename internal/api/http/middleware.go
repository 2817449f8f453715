package http

import (
	"net/http"
	"time"

	"github.com/taskcast/taskcast/internal/logging"
)

// LoggingMiddleware logs each request's method, path, status, and
// latency, grounded on the teacher's LoggingMiddleware in
// middleware_logging.go, trimmed of the log-id propagation this module
// has no equivalent context helper for.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("%s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(started))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush lets the SSE handler's http.Flusher type assertion keep working
// through this wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// RecoveryMiddleware converts a panicking handler into a 500 response
// instead of taking down the server, mirroring internal/async's
// panic-isolation policy for background goroutines applied to the
// request path.
func RecoveryMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic handling %s %s: %v", r.Method, r.URL.Path, rec)
					writeJSONError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
