// Package api serves the run status and Prometheus metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// StatsFunc returns the current status document.
type StatsFunc func() interface{}

// Server is the status HTTP server.
type Server struct {
	server *http.Server
	stats  StatsFunc
}

// NewServer builds the router. reg may be nil to omit /metrics.
func NewServer(addr string, stats StatsFunc, reg *prometheus.Registry) *Server {
	s := &Server{stats: stats}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/stats", s.statsHandler).Methods("GET")
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves in the background. It returns
// the bound address, which differs from the configured one for port 0.
func (s *Server) Start() (string, error) {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return "", fmt.Errorf("could not listen on %s: %w", s.server.Addr, err)
	}
	go func() {
		log.WithField("addr", lis.Addr().String()).Info("API server starting")
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("API server failed")
		}
	}()
	return lis.Addr().String(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// statsHandler renders the status document as JSON.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(s.stats())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal stats: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
