package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohitkumar/stepflow/access"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

// ResolveApproval records a decision on a step that is awaiting approval.
// Approval resumes the run. Rejection fails the step and, unless the gate is
// configured to continue, the run as well.
func (e *Engine) ResolveApproval(ctx context.Context, runStepId string, decision model.ApprovalDecision) error {
	if len(decision.ResolvedBy) == 0 {
		return api.ValidationError{Message: "resolvedBy is required"}
	}
	step, err := e.storage.GetRunStep(ctx, runStepId)
	if err != nil {
		return err
	}
	runId := step.RunId
	e.locks.Lock(runId)
	defer e.locks.Unlock(runId)

	run, err := e.storage.GetRun(ctx, runId)
	if err != nil {
		return err
	}
	role, err := access.Authorize(ctx, e.directory, run.BusinessId, decision.ResolvedBy)
	if err != nil {
		return err
	}
	steps, err := e.storage.ListRunSteps(ctx, runId)
	if err != nil {
		return err
	}
	step = nil
	for _, s := range steps {
		if s.Id == runStepId {
			step = s
		}
	}
	if step == nil {
		return api.NotFoundError{Entity: "run step", Id: runStepId}
	}
	if step.Status != model.STEP_AWAITING_APPROVAL || run.Status != model.RUN_AWAITING_APPROVAL {
		return api.ConflictError{Message: fmt.Sprintf("run step %s is %s in a %s run, not awaiting approval", step.Id, step.Status, run.Status)}
	}
	gate := step.Config.Approval
	if gate == nil {
		return api.FatalError{RunId: run.Id, Reason: "approval step " + step.Id + " has no approval config"}
	}
	if !access.CanApprove(role, gate.ApproverRole) {
		return api.ForbiddenError{UserId: decision.ResolvedBy, Reason: fmt.Sprintf("role %s can not resolve a %s approval", role, gate.ApproverRole)}
	}

	output := map[string]any{
		"approved":   decision.Approved,
		"resolvedBy": decision.ResolvedBy,
		"resolvedAt": e.now().Format(time.RFC3339),
	}
	if len(decision.Note) != 0 {
		output["note"] = decision.Note
	}
	logger.Info("approval resolved", zap.String("runId", run.Id), zap.String("runStepId", step.Id),
		zap.Bool("approved", decision.Approved), zap.String("resolvedBy", decision.ResolvedBy))

	if decision.Approved {
		e.finishStep(ctx, run, step, model.STEP_COMPLETED, output)
		return e.resume(ctx, run, steps, step)
	}
	output["reason"] = "approval rejected by " + decision.ResolvedBy
	e.finishStep(ctx, run, step, model.STEP_FAILED, output)
	if gate.OnReject == model.REJECT_CONTINUE {
		return e.resume(ctx, run, steps, step)
	}
	return e.finalize(ctx, run, steps, model.RUN_FAILED, output["reason"].(string))
}

func (e *Engine) resume(ctx context.Context, run *model.Run, steps []*model.RunStep, step *model.RunStep) error {
	run.Status = model.RUN_RUNNING
	run.Summary = model.Summarize(steps)
	if err := e.storage.SaveRunState(ctx, run, step); err != nil {
		return err
	}
	return e.enqueueAdvance(ctx, run.Id)
}

// ListPendingApprovals returns the approval gates currently blocking runs of
// a business, oldest run first.
func (e *Engine) ListPendingApprovals(ctx context.Context, userId string, businessId string) ([]*model.PendingApproval, error) {
	if _, err := access.Authorize(ctx, e.directory, businessId, userId); err != nil {
		return nil, err
	}
	steps, err := e.storage.ListRunStepsByStatus(ctx, model.STEP_AWAITING_APPROVAL)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PendingApproval, 0)
	runs := make(map[string]*model.Run)
	for _, step := range steps {
		run, ok := runs[step.RunId]
		if !ok {
			run, err = e.storage.GetRun(ctx, step.RunId)
			if err != nil {
				return nil, err
			}
			runs[step.RunId] = run
		}
		if run.BusinessId != businessId {
			continue
		}
		out = append(out, &model.PendingApproval{Run: run, RunStep: step})
	}
	sortPending(out)
	return out, nil
}

// OverdueApprovals returns approval gates that have been waiting longer than
// threshold.
func (e *Engine) OverdueApprovals(ctx context.Context, threshold time.Duration) ([]*model.RunStep, error) {
	steps, err := e.storage.ListRunStepsByStatus(ctx, model.STEP_AWAITING_APPROVAL)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]*model.RunStep, 0)
	for _, step := range steps {
		if step.StartedAt != nil && now.Sub(*step.StartedAt) > threshold {
			out = append(out, step)
		}
	}
	return out, nil
}

func sortPending(out []*model.PendingApproval) {
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Run.StartedAt.Before(out[j].Run.StartedAt)
	})
}
