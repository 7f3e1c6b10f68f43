package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

const maxRequestBytes = 1 << 20

// CreateWorkflowRequest is the body of POST /api/v1/workflows.
type CreateWorkflowRequest struct {
	Instruction string       `json:"instruction"`
	Options     core.Options `json:"options"`
}

// WorkflowAccepted is returned for submissions and for runs still in flight.
type WorkflowAccepted struct {
	WorkflowID   core.WorkflowID     `json:"workflow_id"`
	Status       core.WorkflowStatus `json:"status"`
	CurrentPhase core.Phase          `json:"current_phase,omitempty"`
	Iterations   int                 `json:"iteration_count"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.service.StartWorkflow(r.Context(), req.Instruction, req.Options)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/workflows/"+string(id))
	respondJSON(w, http.StatusAccepted, WorkflowAccepted{
		WorkflowID: id,
		Status:     core.WorkflowStatusRunning,
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	summaries, err := s.service.List(r.Context(), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if summaries == nil {
		summaries = []core.WorkflowSummary{}
	}
	respondJSON(w, http.StatusOK, summaries)
}

// handleGetWorkflow returns the final report, or 202 with progress while the
// run is still in flight.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	report, err := s.service.GetResult(r.Context(), id)
	if err == nil {
		respondJSON(w, http.StatusOK, report)
		return
	}
	if !errors.Is(err, core.ErrStillRunning) {
		respondDomainError(w, err)
		return
	}

	progress := WorkflowAccepted{WorkflowID: id, Status: core.WorkflowStatusRunning}
	if wc, serr := s.service.Status(r.Context(), id); serr == nil {
		progress.Status = wc.Status
		progress.CurrentPhase = wc.CurrentPhase
		progress.Iterations = wc.Iterations
	}
	respondJSON(w, http.StatusAccepted, progress)
}

func (s *Server) handleGetToolCalls(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	calls, err := s.service.ToolCalls(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if calls == nil {
		calls = []core.ToolCallRecord{}
	}
	respondJSON(w, http.StatusOK, calls)
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	if err := s.service.Cancel(id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": string(id),
		"status":      "cancelling",
	})
}
