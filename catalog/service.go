package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/stepflow/access"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type CreateWorkflowRequest struct {
	BusinessId     string                `json:"businessId"`
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Trigger        model.Trigger         `json:"trigger"`
	ApprovalPolicy model.ApprovalPolicy  `json:"approvalPolicy"`
	Active         *bool                 `json:"active,omitempty"`
	Steps          []*model.WorkflowStep `json:"steps,omitempty"`
}

type WorkflowPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Service manages workflows and their step catalogs. Every call names the
// acting user explicitly.
type Service interface {
	CreateWorkflow(ctx context.Context, userId string, req CreateWorkflowRequest) (*model.WorkflowWithSteps, error)
	UpdateWorkflow(ctx context.Context, userId string, id string, patch WorkflowPatch) (*model.Workflow, error)
	GetWorkflow(ctx context.Context, userId string, id string) (*model.WorkflowWithSteps, error)
	ListWorkflows(ctx context.Context, userId string, businessId string) ([]*model.Workflow, error)
	AddStep(ctx context.Context, userId string, workflowId string, step *model.WorkflowStep) (*model.WorkflowStep, error)
	UpdateStep(ctx context.Context, userId string, workflowId string, stepId string, patch model.StepPatch) (*model.WorkflowStep, error)
}

type ServiceImpl struct {
	storage   persistence.WorkflowStore
	directory access.Directory
	clock     func() time.Time
}

func NewService(storage persistence.WorkflowStore, directory access.Directory) Service {
	return &ServiceImpl{
		storage:   storage,
		directory: directory,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ValidateTrigger checks the trigger shape and, for scheduled triggers, the
// cron expression.
func ValidateTrigger(t model.Trigger) error {
	if err := t.Validate(); err != nil {
		return api.ValidationError{Message: err.Error()}
	}
	if t.Type == model.TRIGGER_SCHEDULED {
		if _, err := cron.ParseStandard(t.Schedule); err != nil {
			return api.ValidationError{Message: fmt.Sprintf("invalid schedule %q: %s", t.Schedule, err)}
		}
	}
	return nil
}

func validateStep(step *model.WorkflowStep) error {
	if err := step.Validate(); err != nil {
		return api.ValidationError{Message: err.Error()}
	}
	return nil
}

// checkPolicy rejects approval gates whose approver role the workflow's
// approval policy does not list.
func checkPolicy(policy model.ApprovalPolicy, step *model.WorkflowStep) error {
	if step.Type != model.STEP_APPROVAL || step.Config.Approval == nil {
		return nil
	}
	if role := step.Config.Approval.ApproverRole; !policy.Allows(role) {
		return api.ValidationError{Message: fmt.Sprintf("approver role %s is not allowed by the %s approval policy", role, policy.Type)}
	}
	return nil
}

func (s *ServiceImpl) CreateWorkflow(ctx context.Context, userId string, req CreateWorkflowRequest) (*model.WorkflowWithSteps, error) {
	if len(strings.TrimSpace(req.BusinessId)) == 0 {
		return nil, api.ValidationError{Message: "businessId is required"}
	}
	if len(strings.TrimSpace(req.Name)) == 0 {
		return nil, api.ValidationError{Message: "name is required"}
	}
	if _, err := access.Authorize(ctx, s.directory, req.BusinessId, userId); err != nil {
		return nil, err
	}
	if err := ValidateTrigger(req.Trigger); err != nil {
		return nil, err
	}
	if req.ApprovalPolicy.Type == "" {
		req.ApprovalPolicy.Type = model.APPROVAL_NONE
	}
	if err := req.ApprovalPolicy.Validate(); err != nil {
		return nil, api.ValidationError{Message: err.Error()}
	}
	for _, step := range req.Steps {
		if err := validateStep(step); err != nil {
			return nil, err
		}
		if err := checkPolicy(req.ApprovalPolicy, step); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	wf := &model.Workflow{
		Id:             uuid.New().String(),
		BusinessId:     req.BusinessId,
		Name:           req.Name,
		Description:    req.Description,
		Trigger:        req.Trigger,
		ApprovalPolicy: req.ApprovalPolicy,
		Active:         active,
		CreatedBy:      userId,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	steps := make([]*model.WorkflowStep, 0, len(req.Steps))
	for _, step := range req.Steps {
		steps = append(steps, s.newStep(wf.Id, step))
	}
	if err := s.storage.CreateWorkflow(ctx, wf, steps); err != nil {
		logger.Error("error saving workflow", zap.String("workflow", wf.Name), zap.Error(err))
		return nil, err
	}
	logger.Info("workflow created", zap.String("workflowId", wf.Id), zap.String("businessId", wf.BusinessId),
		zap.String("trigger", string(wf.Trigger.Type)), zap.Int("steps", len(steps)))
	return &model.WorkflowWithSteps{Workflow: *wf, Steps: steps}, nil
}

func (s *ServiceImpl) UpdateWorkflow(ctx context.Context, userId string, id string, patch WorkflowPatch) (*model.Workflow, error) {
	wf, err := s.authorizedWorkflow(ctx, userId, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		if len(strings.TrimSpace(*patch.Name)) == 0 {
			return nil, api.ValidationError{Message: "name can not be empty"}
		}
		wf.Name = *patch.Name
	}
	if patch.Description != nil {
		wf.Description = *patch.Description
	}
	if patch.Active != nil {
		wf.Active = *patch.Active
	}
	wf.UpdatedAt = s.clock()
	if err := s.storage.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *ServiceImpl) GetWorkflow(ctx context.Context, userId string, id string) (*model.WorkflowWithSteps, error) {
	wf, err := s.authorizedWorkflow(ctx, userId, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.storage.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.WorkflowWithSteps{Workflow: *wf, Steps: steps}, nil
}

func (s *ServiceImpl) ListWorkflows(ctx context.Context, userId string, businessId string) ([]*model.Workflow, error) {
	if _, err := access.Authorize(ctx, s.directory, businessId, userId); err != nil {
		return nil, err
	}
	return s.storage.ListWorkflows(ctx, businessId)
}

func (s *ServiceImpl) AddStep(ctx context.Context, userId string, workflowId string, step *model.WorkflowStep) (*model.WorkflowStep, error) {
	wf, err := s.authorizedWorkflow(ctx, userId, workflowId)
	if err != nil {
		return nil, err
	}
	if err := validateStep(step); err != nil {
		return nil, err
	}
	if err := checkPolicy(wf.ApprovalPolicy, step); err != nil {
		return nil, err
	}
	return s.appendStep(ctx, workflowId, step)
}

func (s *ServiceImpl) newStep(workflowId string, step *model.WorkflowStep) *model.WorkflowStep {
	now := s.clock()
	return &model.WorkflowStep{
		Id:         uuid.New().String(),
		WorkflowId: workflowId,
		Type:       step.Type,
		Title:      step.Title,
		Config:     step.Config,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *ServiceImpl) appendStep(ctx context.Context, workflowId string, step *model.WorkflowStep) (*model.WorkflowStep, error) {
	saved := s.newStep(workflowId, step)
	if err := s.storage.AppendStep(ctx, saved); err != nil {
		logger.Error("error appending step", zap.String("workflowId", workflowId), zap.Error(err))
		return nil, err
	}
	return saved, nil
}

func (s *ServiceImpl) UpdateStep(ctx context.Context, userId string, workflowId string, stepId string, patch model.StepPatch) (*model.WorkflowStep, error) {
	wf, err := s.authorizedWorkflow(ctx, userId, workflowId)
	if err != nil {
		return nil, err
	}
	step, err := s.storage.GetStep(ctx, workflowId, stepId)
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(step); err != nil {
		return nil, api.ValidationError{Message: err.Error()}
	}
	if err := checkPolicy(wf.ApprovalPolicy, step); err != nil {
		return nil, err
	}
	step.UpdatedAt = s.clock()
	if err := s.storage.SaveStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

func (s *ServiceImpl) authorizedWorkflow(ctx context.Context, userId string, id string) (*model.Workflow, error) {
	wf, err := s.storage.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := access.Authorize(ctx, s.directory, wf.BusinessId, userId); err != nil {
		return nil, err
	}
	return wf, nil
}
