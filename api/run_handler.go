package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/QualityUnit/pyworkflow/engine"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/store"
)

// createRunRequest is the body of POST /runs.
type createRunRequest struct {
	WorkflowName    string          `json:"workflow_name"`
	Args            json.RawMessage `json:"args,omitempty"`
	Kwargs          json.RawMessage `json:"kwargs,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	ParentRunID     string          `json:"parent_run_id,omitempty"`
	MaxDurationSecs int64           `json:"max_duration_seconds,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return
	}
	if req.WorkflowName == "" {
		respondError(w, http.StatusUnprocessableEntity, "workflow_name is required")
		return
	}

	var opts []engine.StartOption
	if req.IdempotencyKey != "" {
		opts = append(opts, engine.WithIdempotencyKey(req.IdempotencyKey))
	}
	if req.ParentRunID != "" {
		parentID, err := id.ParseRunID(req.ParentRunID)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid parent_run_id: "+err.Error())
			return
		}
		opts = append(opts, engine.WithParentRunID(parentID))
	}
	if req.MaxDurationSecs > 0 {
		opts = append(opts, engine.WithMaxDuration(time.Duration(req.MaxDurationSecs)*time.Second))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, engine.WithTags(req.Tags...))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, engine.WithMetadata(req.Metadata))
	}

	runID, err := s.engine.Start(r.Context(), req.WorkflowName, req.Args, req.Kwargs, opts...)
	if err != nil {
		if errors.Is(err, engine.ErrIdempotencyConflict) {
			respondError(w, http.StatusConflict, "idempotency_key already used by a different workflow")
			return
		}
		s.logger.Error("start run failed", "workflow_name", req.WorkflowName, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	respondJSON(w, http.StatusCreated, createRunResponse{RunID: runID.String()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "invalid run_id")
		return
	}

	rec, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.RunFilter{
		WorkflowName: q.Get("workflow_name"),
		Status:       run.Status(q.Get("status")),
		Query:        q.Get("query"),
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid start_time: "+err.Error())
			return
		}
		filter.StartTime = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid end_time: "+err.Error())
			return
		}
		filter.EndTime = &t
	}

	opts := store.ListOpts{Cursor: q.Get("cursor"), Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusUnprocessableEntity, "invalid limit")
			return
		}
		opts.Limit = n
	}

	runs, nextCursor, err := s.store.ListRuns(r.Context(), filter, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, listRunsResponse{Runs: runs, NextCursor: nextCursor})
}

type listRunsResponse struct {
	Runs       []*run.Run `json:"runs"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "invalid run_id")
		return
	}

	var fromSeq int64
	if v := r.URL.Query().Get("from_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid from_sequence")
			return
		}
		fromSeq = n
	}

	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	events, err := s.store.ReadEvents(r.Context(), runID, fromSeq)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

type cancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(mux.Vars(r)["run_id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "invalid run_id")
		return
	}

	var req cancelRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
			return
		}
	}

	if err := s.engine.Cancel(r.Context(), runID, req.Reason); err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("cancel run failed", "run_id", runID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	w.WriteHeader(http.StatusOK)
}
