package eventlog

import (
	"net/http"
	"time"

	"github.com/dbis-ilm/sensbee/internal/id"
	"github.com/dbis-ilm/sensbee/internal/store"
)

// Middleware wraps next so that every request's outcome is enqueued
// on pub as a LogEvent, mirroring internal/logging's response-capture
// shape but feeding the event bus instead of (or in addition to) the
// debug log.
func Middleware(pub *Publisher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			pub.Enqueue(store.LogEvent{
				OtelContext: id.Token(),
				WallTime:    start.UTC(),
				Duration:    time.Since(start),
				Transport:   "HTTP",
				Path:        r.URL.Path,
				Status:      rw.status,
			})
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
