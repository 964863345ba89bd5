package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pidginlab/pidgin/pkg/sharedstate"
)

// Server is the daemon's read-only observation endpoint. It binds to a
// localhost address and never mutates experiment state.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the endpoint for one experiment directory.
func NewServer(addr, experimentDir string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap, at, err := sharedstate.Read(experimentDir)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			*sharedstate.Snapshot
			PublishedAt time.Time `json:"published_at"`
		}{snap, at})
	})
	r.Handle("/metrics", promhttp.Handler())

	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server failed", "addr", s.httpServer.Addr, "error", err)
		}
	}()
}

// Shutdown drains the server with a short deadline.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Debug("status server shutdown", "error", err)
	}
}
