package api

import (
	"net/http"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.cfg.Version,
	})
}

// readyHandler implements the /ready endpoint: the server is ready when
// its registry store answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	overall := "ready"

	if s.cfg.Registry != nil {
		if _, err := s.cfg.Registry.List(); err != nil {
			checks["registry"] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "not ready"
		} else {
			checks["registry"] = "ok"
		}
	}

	writeJSON(w, status, ReadyResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}
