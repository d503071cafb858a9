package rest

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/trigger"
)

// HandleTrigger is the inbound webhook entry point. A dry run returns a
// simulation and persists nothing.
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req model.WorkflowRunRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(strings.TrimSpace(req.WorkflowId)) == 0 || len(strings.TrimSpace(req.StartedBy)) == 0 {
		respondWithError(w, http.StatusBadRequest, "workflowId and startedBy are required")
		return
	}
	s.trigger(w, r, req)
}

type hookRequest struct {
	StartedBy string         `json:"startedBy,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	DryRun    bool           `json:"dryRun,omitempty"`
}

// HandleHook starts the webhook workflow bound to the event key in the path.
// Without an explicit initiator the run is attributed to the workflow creator.
func (s *Server) HandleHook(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	wf, err := trigger.FindByEventKey(r.Context(), s.workflows, mux.Vars(r)["eventKey"])
	if err != nil {
		respondWithServiceError(w, "error resolving webhook", err)
		return
	}
	startedBy := req.StartedBy
	if startedBy == "" {
		startedBy = wf.CreatedBy
	}
	s.trigger(w, r, model.WorkflowRunRequest{
		WorkflowId: wf.Id,
		StartedBy:  startedBy,
		Params:     req.Params,
		DryRun:     req.DryRun,
	})
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, req model.WorkflowRunRequest) {
	if req.DryRun {
		sim, err := s.runService.Simulate(r.Context(), req)
		if err != nil {
			respondWithServiceError(w, "error simulating workflow", err)
			return
		}
		respondOK(w, map[string]any{"ok": true, "dryRun": true, "result": sim})
		return
	}
	runId, err := s.runService.StartRun(r.Context(), req, model.TRIGGER_MODE_WEBHOOK)
	if err != nil {
		respondWithServiceError(w, "error triggering workflow", err)
		return
	}
	respondOK(w, map[string]any{"ok": true, "runId": runId})
}
