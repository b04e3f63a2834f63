package healthcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the liveness/metrics HTTP surface a stage replica, the
// server, or the results-listener binds next to its main loop. It never
// participates in the framed client<->server or internal broker
// protocols — it is an external collaborator for orchestration
// (container health probes) and scraping, grounded on
// adred-codev-ws_poc's internal/server.go setupHTTPServer shape.
type Server struct {
	httpServer *http.Server
	ready      func() bool
}

// New builds a Server listening on addr. ready reports whether the
// owning process considers itself live (e.g. WAL recovered, broker
// connected); /health returns 200 while ready() is true and 503
// otherwise. A nil ready is treated as always-ready.
func New(addr string, ready func() bool, metrics *Metrics) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	mux := http.NewServeMux()
	srv := &Server{ready: ready}
	mux.HandleFunc("/health", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return srv
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP surface.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
