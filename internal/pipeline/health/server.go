package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hxann/curator/internal/resilience/breaker"
	"github.com/hxann/curator/internal/resilience/degrade"
)

// Server exposes health, degradation, and administrative endpoints.
type Server struct {
	checks   *Manager
	degrade  *degrade.Manager
	breakers *breaker.Registry
	server   *http.Server
}

// NewServer creates an HTTP server for health monitoring.
func NewServer(checks *Manager, dm *degrade.Manager, breakers *breaker.Registry, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		checks:   checks,
		degrade:  dm,
		breakers: breakers,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/degradation", s.handleDegradation)
	mux.HandleFunc("/admin/breakers", s.handleBreakers)
	mux.HandleFunc("/admin/breakers/reset", s.handleBreakersReset)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sh := s.checks.SystemHealth(r.Context())

	status := "healthy"
	code := http.StatusOK
	if !sh.Healthy {
		status = "degraded"
	}
	if !s.degrade.CanContinue() {
		status = "critical"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"healthy":   sh.HealthyCount,
		"unhealthy": sh.UnhealthyCount,
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	sh := s.checks.SystemHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sh)
}

func (s *Server) handleDegradation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.degrade.GetSystemHealthSummary())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.breakers.AllStatus())
}

func (s *Server) handleBreakersReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.breakers.ResetAll()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}
