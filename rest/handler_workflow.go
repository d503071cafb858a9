package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/stepflow/catalog"
	"github.com/mohitkumar/stepflow/model"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req catalog.CreateWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, "error decoding workflow", err)
		return
	}
	wf, err := s.catalogService.CreateWorkflow(r.Context(), userId(r), req)
	if err != nil {
		respondWithServiceError(w, "error creating workflow", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wf)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.catalogService.GetWorkflow(r.Context(), userId(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, "error getting workflow", err)
		return
	}
	respondOK(w, wf)
}

func (s *Server) HandleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var patch catalog.WorkflowPatch
	if err := decodeBody(r, &patch); err != nil {
		respondWithServiceError(w, "error decoding workflow patch", err)
		return
	}
	wf, err := s.catalogService.UpdateWorkflow(r.Context(), userId(r), mux.Vars(r)["id"], patch)
	if err != nil {
		respondWithServiceError(w, "error updating workflow", err)
		return
	}
	respondOK(w, wf)
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.catalogService.ListWorkflows(r.Context(), userId(r), mux.Vars(r)["businessId"])
	if err != nil {
		respondWithServiceError(w, "error listing workflows", err)
		return
	}
	respondOK(w, wfs)
}

func (s *Server) HandleAddStep(w http.ResponseWriter, r *http.Request) {
	var step model.WorkflowStep
	if err := decodeBody(r, &step); err != nil {
		respondWithServiceError(w, "error decoding step", err)
		return
	}
	saved, err := s.catalogService.AddStep(r.Context(), userId(r), mux.Vars(r)["id"], &step)
	if err != nil {
		respondWithServiceError(w, "error adding step", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, saved)
}

func (s *Server) HandleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var patch model.StepPatch
	if err := decodeBody(r, &patch); err != nil {
		respondWithServiceError(w, "error decoding step patch", err)
		return
	}
	vars := mux.Vars(r)
	step, err := s.catalogService.UpdateStep(r.Context(), userId(r), vars["id"], vars["stepId"], patch)
	if err != nil {
		respondWithServiceError(w, "error updating step", err)
		return
	}
	respondOK(w, step)
}
