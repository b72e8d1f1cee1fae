package web

import (
	"net/http"
	"time"
)

// startTime records when the package was initialized for uptime calculation.
var startTime = time.Now()

// HealthResponse is the JSON response for the /health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Phase     string `json:"phase"`
	Connected bool   `json:"connected"`
	Version   string `json:"version"`
}

// handleHealthCheck handles GET /health for load balancer health checks.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Phase:     string(snap.Phase),
		Connected: snap.Connected,
		Version:   s.config.Version,
	})
}
