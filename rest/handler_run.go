package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/stepflow/model"
)

type startRunRequest struct {
	Params map[string]any `json:"params,omitempty"`
	DryRun bool           `json:"dryRun,omitempty"`
}

type resolveRequest struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

func (s *Server) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondWithServiceError(w, "error decoding run request", err)
			return
		}
	}
	runId, err := s.runService.StartRun(r.Context(), model.WorkflowRunRequest{
		WorkflowId: mux.Vars(r)["id"],
		StartedBy:  userId(r),
		Params:     req.Params,
		DryRun:     req.DryRun,
	}, model.TRIGGER_MODE_MANUAL)
	if err != nil {
		respondWithServiceError(w, "error starting run", err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"runId": runId})
}

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runService.ListRuns(r.Context(), userId(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, "error listing runs", err)
		return
	}
	respondOK(w, runs)
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runService.GetRun(r.Context(), userId(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, "error getting run", err)
		return
	}
	respondOK(w, run)
}

func (s *Server) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["id"]
	if err := s.runService.Cancel(r.Context(), runId, userId(r)); err != nil {
		respondWithServiceError(w, "error cancelling run", err)
		return
	}
	respondOK(w, map[string]any{"ok": true, "runId": runId})
}

func (s *Server) HandleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, "error decoding decision", err)
		return
	}
	runStepId := mux.Vars(r)["id"]
	err := s.runService.ResolveApproval(r.Context(), runStepId, model.ApprovalDecision{
		Approved:   req.Approved,
		Note:       req.Note,
		ResolvedBy: userId(r),
	})
	if err != nil {
		respondWithServiceError(w, "error resolving approval", err)
		return
	}
	respondOK(w, map[string]any{"ok": true, "runStepId": runStepId})
}

func (s *Server) HandlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.runService.ListPendingApprovals(r.Context(), userId(r), mux.Vars(r)["businessId"])
	if err != nil {
		respondWithServiceError(w, "error listing approvals", err)
		return
	}
	respondOK(w, pending)
}
