package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/catalog"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"go.uber.org/zap"
)

// USER_HEADER carries the identity of the acting user on every request.
const USER_HEADER = "X-User-Id"

type RunService interface {
	StartRun(ctx context.Context, req model.WorkflowRunRequest, mode model.TriggerMode) (string, error)
	Simulate(ctx context.Context, req model.WorkflowRunRequest) (*model.Simulation, error)
	GetRun(ctx context.Context, userId string, runId string) (*model.RunWithSteps, error)
	ListRuns(ctx context.Context, userId string, workflowId string) ([]*model.Run, error)
	Cancel(ctx context.Context, runId string, userId string) error
	ResolveApproval(ctx context.Context, runStepId string, decision model.ApprovalDecision) error
	ListPendingApprovals(ctx context.Context, userId string, businessId string) ([]*model.PendingApproval, error)
}

type Server struct {
	http.Server
	Port           int
	catalogService catalog.Service
	runService     RunService
	workflows      persistence.WorkflowStore
}

func NewServer(httpPort int, catalogService catalog.Service, runService RunService, workflows persistence.WorkflowStore) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		catalogService: catalogService,
		runService:     runService,
		workflows:      workflows,
		Port:           httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/workflows", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleUpdateWorkflow).Methods(http.MethodPatch)
	router.HandleFunc("/businesses/{businessId}/workflows", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/steps", s.HandleAddStep).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/steps/{stepId}", s.HandleUpdateStep).Methods(http.MethodPatch)

	router.HandleFunc("/workflows/{id}/runs", s.HandleStartRun).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/runs", s.HandleListRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}", s.HandleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/cancel", s.HandleCancelRun).Methods(http.MethodPost)
	router.HandleFunc("/run-steps/{id}/resolve", s.HandleResolveApproval).Methods(http.MethodPost)
	router.HandleFunc("/businesses/{businessId}/approvals", s.HandlePendingApprovals).Methods(http.MethodGet)

	router.HandleFunc("/trigger", s.HandleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/hooks/{eventKey}", s.HandleHook).Methods(http.MethodPost)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
		return err
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", zap.String("method", r.Method), zap.String("uri", r.RequestURI),
			zap.String("user", r.Header.Get(USER_HEADER)))
		next.ServeHTTP(w, r)
	})
}

func userId(r *http.Request) string {
	return r.Header.Get(USER_HEADER)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return api.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps an engine or catalog error onto its status code.
func respondWithServiceError(w http.ResponseWriter, msg string, err error) {
	code := api.HTTPStatus(err)
	if code == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
	}
	respondWithError(w, code, err.Error())
}
