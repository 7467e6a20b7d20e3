// Package reqlog wraps an HTTP handler with per-request correlation ids and
// access logging, the HTTP-plane equivalent of the teacher's
// uuid.New().String() id-stamping convention in pkg/api/server.go (there
// applied to jobs/tasks, here to inbound requests).
package reqlog

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla-services/syncstorage-go/internal/logging"
)

// RequestIDHeader is the response header carrying the generated id, so a
// client (or an operator correlating logs) can tie a response back to its
// access log line.
const RequestIDHeader = "X-Request-Id"

// statusRecorder captures the status code written by the wrapped handler,
// since http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware assigns a fresh request id to every inbound request, echoes it
// back on RequestIDHeader, and logs method/path/status/duration tagged with
// that id and component.
func Middleware(component string, next http.Handler) http.Handler {
	log := logging.WithComponent(component)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
