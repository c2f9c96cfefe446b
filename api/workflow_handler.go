package api

import "net/http"

// handleListWorkflows implements GET /workflows (spec §6.1), serving
// the descriptor list supplied via WithWorkflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.workflows)
}

type healthResponse struct {
	Status         string `json:"status"`
	StorageHealthy bool   `json:"storage_healthy"`
}

// handleHealth implements GET /health (spec §6.1).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.store.Ping(r.Context()) == nil
	status := "ok"
	if !healthy {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: status, StorageHealthy: healthy})
}
