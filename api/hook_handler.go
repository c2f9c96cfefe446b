package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/QualityUnit/pyworkflow/engine"
	"github.com/QualityUnit/pyworkflow/internal/id"
)

type signalHookResponse struct {
	Accepted bool `json:"accepted"`
}

// handleSignalHook implements POST /hooks/{run_id}/{hook_name} (spec
// §6.1, §4.1's signal_hook). A hook that is no longer PENDING is a 410,
// not a 409: the caller's request was well formed, the hook is simply
// gone.
func (s *Server) handleSignalHook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, err := id.ParseRunID(vars["run_id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "invalid run_id")
		return
	}

	var payload json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
			return
		}
	}

	accepted, err := s.engine.SignalHook(r.Context(), runID, vars["hook_name"], payload)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrRunNotFound), errors.Is(err, engine.ErrHookNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("signal hook failed", "run_id", runID, "hook_name", vars["hook_name"], "error", err)
			respondError(w, http.StatusInternalServerError, "failed to signal hook")
		}
		return
	}
	if !accepted {
		respondError(w, http.StatusGone, "hook is no longer pending")
		return
	}
	respondJSON(w, http.StatusOK, signalHookResponse{Accepted: true})
}
