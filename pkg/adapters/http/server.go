// Package http exposes the neonflow command surface as a JSON API.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/neonflow"
	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/internal/presentation/graph"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server serves the API for a session manager.
type Server struct {
	Manager  *session.Manager
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics serves the gatherer's metrics on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// RunRequest is the body of the run endpoints.
type RunRequest struct {
	Input string `json:"input"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Line string `json:"line"`
}

// MessageResponse answers a chat line.
type MessageResponse struct {
	Text string              `json:"text"`
	Runs []*domain.RunRecord `json:"runs,omitempty"`
}

// WorkflowSummary describes a loaded workflow.
type WorkflowSummary struct {
	Name          string   `json:"name"`
	Model         string   `json:"model"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTraversals int      `json:"maximum_traversals"`
	Entry         int      `json:"entry"`
	Nodes         int      `json:"nodes"`
}

// NewHandler creates a new HTTP handler for the manager.
func NewHandler(m *session.Manager, opts ...Option) http.Handler {
	s := &Server{Manager: m, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)

	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.ListWorkflows)
		r.Post("/runs", s.RunAll)
		r.Get("/{name}", s.GetWorkflow)
		r.Get("/{name}/graph", s.GetGraph)
		r.Post("/{name}/runs", s.RunWorkflow)
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Get("/{id}", s.GetRun)
		r.Get("/{id}/graph", s.GetRunGraph)
		r.Delete("/{id}", s.DeleteRun)
	})

	r.Post("/sessions/{id}/messages", s.PostMessage)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"app":       "neonflow-http",
		"version":   strings.TrimSpace(neonflow.Version),
		"workflows": len(s.Manager.List()),
	})
}

// ListWorkflows handles the GET /workflows request.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs := s.Manager.Workflows()
	out := make([]WorkflowSummary, len(wfs))
	for i, wf := range wfs {
		out[i] = WorkflowSummary{
			Name:          wf.Name,
			Model:         wf.Model,
			Temperature:   wf.Temperature,
			MaxTraversals: wf.MaxTraversals,
			Entry:         wf.Entry,
			Nodes:         len(wf.Nodes),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// GetWorkflow handles the GET /workflows/{name} request.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.Manager.Workflow(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

// GetGraph handles the GET /workflows/{name}/graph request (Mermaid text).
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	wf, err := s.Manager.Workflow(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(graph.GenerateMermaid(wf, nil)))
}

// RunWorkflow handles the POST /workflows/{name}/runs request.
// Aborted runs are reported in the record with status 200; only requests that
// could not start a run are errors.
func (s *Server) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Manager.RunWorkflow(r.Context(), chi.URLParam(r, "name"), body.Input)
	if res == nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res.Record())
}

// RunAll handles the POST /workflows/runs request.
func (s *Server) RunAll(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if !s.decode(w, r, &body) {
		return
	}
	results, _ := s.Manager.RunAll(r.Context(), body.Input)
	s.writeJSON(w, http.StatusOK, records(results))
}

// ListRuns handles the GET /runs request.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	store := s.Manager.Store()
	if store == nil {
		s.writeJSON(w, http.StatusOK, []string{})
		return
	}
	ids, err := store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

// GetRun handles the GET /runs/{id} request.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// GetRunGraph handles the GET /runs/{id}/graph request: the workflow graph with
// the run's visits overlaid.
func (s *Server) GetRunGraph(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	wf, err := s.Manager.Workflow(rec.Workflow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(graph.GenerateMermaid(wf, graph.OverlayFromState(rec.State))))
}

// DeleteRun handles the DELETE /runs/{id} request.
func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request) {
	store := s.Manager.Store()
	if store == nil {
		s.writeError(w, domain.ErrRunNotFound)
		return
	}
	if err := store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles the POST /sessions/{id}/messages request.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if !s.decode(w, r, &body) {
		return
	}
	reply, err := s.Manager.Dispatch(r.Context(), chi.URLParam(r, "id"), body.Line)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			s.writeError(w, err)
			return
		}
		// Anything else is a line the session could not act on.
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Text: reply.Text, Runs: records(reply.Results)})
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*domain.RunRecord, bool) {
	store := s.Manager.Store()
	if store == nil {
		s.writeError(w, domain.ErrRunNotFound)
		return nil, false
	}
	rec, err := store.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return rec, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrWorkflowNotFound), errors.Is(err, domain.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidGraph):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnknownCommand), errors.Is(err, session.ErrNoActiveWorkflow):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": fmt.Sprint(err)})
}

func records(results []*domain.RunResult) []*domain.RunRecord {
	out := make([]*domain.RunRecord, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res.Record())
		}
	}
	return out
}
