// Package api exposes the REST surface of spec §6.1 over an
// engine.Engine and a store.Store, using github.com/gorilla/mux for
// routing in the same style as the retrieval pack's other HTTP
// services.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/QualityUnit/pyworkflow/engine"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/store"
)

// Server wires the REST surface to an Engine and a Store. Workflows is
// the fixed descriptor list served by GET /workflows: there is no
// runtime registry of schemas, so the caller supplies it once at
// construction.
type Server struct {
	engine    *engine.Engine
	store     store.Store
	workflows []run.Descriptor
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithWorkflows sets the descriptor list served by GET /workflows.
func WithWorkflows(descriptors ...run.Descriptor) Option {
	return func(s *Server) { s.workflows = descriptors }
}

// WithLogger overrides the default logger, slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds a Server ready to be handed to Router.
func NewServer(eng *engine.Engine, st store.Store, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		store:  st,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the mux.Router serving spec §6.1's endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{run_id}", s.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{run_id}/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/runs/{run_id}/cancel", s.handleCancelRun).Methods(http.MethodPost)
	r.HandleFunc("/hooks/{run_id}/{hook_name}", s.handleSignalHook).Methods(http.MethodPost)
	return r
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}
