// Package health implements the Docker-flow heartbeat endpoints named in
// spec §6: __lbheartbeat__ (always 200) and __heartbeat__ (200 iff the
// connection pool can still acquire a session).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker reports whether a dependency is currently healthy.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// Server exposes the heartbeat endpoints over HTTP.
type Server struct {
	pool    Checker
	mux     *http.ServeMux
	timeout time.Duration
}

// NewServer builds a heartbeat HTTP server backed by pool, which is probed
// on every /__heartbeat__ call.
func NewServer(pool Checker) *Server {
	s := &Server{pool: pool, mux: http.NewServeMux(), timeout: 5 * time.Second}
	s.mux.HandleFunc("/__lbheartbeat__", s.lbHeartbeat)
	s.mux.HandleFunc("/__heartbeat__", s.heartbeat)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// lbHeartbeat always returns 200: it only proves the process is accepting
// connections, independent of backend health.
func (s *Server) lbHeartbeat(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type heartbeatResponse struct {
	Status string `json:"status"`
}

// heartbeat returns 200 iff the pool is acquirable, else 503.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.pool.Check(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(heartbeatResponse{Status: "error: " + err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(heartbeatResponse{Status: "ok"})
}
