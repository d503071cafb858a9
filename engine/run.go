package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/stepflow/access"
	"github.com/mohitkumar/stepflow/analytics"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metrics"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

// runnableWorkflow loads a workflow that may be triggered by initiator.
func (e *Engine) runnableWorkflow(ctx context.Context, req model.WorkflowRunRequest) (*model.Workflow, error) {
	if len(strings.TrimSpace(req.WorkflowId)) == 0 {
		return nil, api.ValidationError{Message: "workflowId is required"}
	}
	if len(strings.TrimSpace(req.StartedBy)) == 0 {
		return nil, api.ValidationError{Message: "startedBy is required"}
	}
	wf, err := e.storage.GetWorkflow(ctx, req.WorkflowId)
	if err != nil {
		return nil, err
	}
	if _, err := access.Authorize(ctx, e.directory, wf.BusinessId, req.StartedBy); err != nil {
		return nil, err
	}
	if !wf.Active {
		return nil, api.ValidationError{Message: fmt.Sprintf("workflow %s is inactive", wf.Id)}
	}
	return wf, nil
}

// StartRun snapshots the workflow's current steps into a new run, queues its
// first advance and returns the run id. Execution continues asynchronously.
func (e *Engine) StartRun(ctx context.Context, req model.WorkflowRunRequest, mode model.TriggerMode) (string, error) {
	wf, err := e.runnableWorkflow(ctx, req)
	if err != nil {
		return "", err
	}
	steps, err := e.storage.ListSteps(ctx, wf.Id)
	if err != nil {
		return "", err
	}
	now := e.now()
	run := &model.Run{
		Id:          uuid.New().String(),
		WorkflowId:  wf.Id,
		BusinessId:  wf.BusinessId,
		Status:      model.RUN_RUNNING,
		StartedBy:   req.StartedBy,
		TriggerMode: mode,
		DryRun:      req.DryRun,
		Params:      req.Params,
		StartedAt:   now,
	}
	runSteps := make([]*model.RunStep, 0, len(steps))
	for _, step := range steps {
		runSteps = append(runSteps, &model.RunStep{
			Id:     uuid.New().String(),
			RunId:  run.Id,
			StepId: step.Id,
			Order:  step.Order,
			Type:   step.Type,
			Title:  step.Title,
			Config: step.Config,
			Status: model.STEP_PENDING,
		})
	}
	run.Summary = model.Summarize(runSteps)
	if err := e.storage.CreateRun(ctx, run, runSteps); err != nil {
		logger.Error("error creating run", zap.String("workflowId", wf.Id), zap.Error(err))
		return "", err
	}
	if err := e.storage.UpdateWorkflowMetrics(ctx, wf.Id, func(m *model.WorkflowMetrics) {
		m.RecordStart(now)
	}); err != nil {
		logger.Error("error updating workflow metrics", zap.String("workflowId", wf.Id), zap.Error(err))
	}
	metrics.RecordRunStarted(ctx, string(mode))
	logger.Info("run started", zap.String("runId", run.Id), zap.String("workflowId", wf.Id),
		zap.String("startedBy", req.StartedBy), zap.String("mode", string(mode)), zap.Bool("dryRun", req.DryRun),
		zap.Int("steps", len(runSteps)))
	if err := e.enqueueAdvance(ctx, run.Id); err != nil {
		if len(runSteps) == 0 {
			return run.Id, e.finalize(ctx, run, runSteps, model.RUN_COMPLETED, "")
		}
		// pending steps keep the run visible to RecoverRuns
		logger.Warn("first advance not queued, left to recovery", zap.String("runId", run.Id), zap.Error(err))
	}
	return run.Id, nil
}

// Advance processes the first pending step of a running run. It is a no-op
// for a run that is not running or that still has a step in flight.
func (e *Engine) Advance(ctx context.Context, runId string) error {
	if e.isFinished(runId) {
		return nil
	}
	e.locks.Lock(runId)
	defer e.locks.Unlock(runId)

	run, err := e.storage.GetRun(ctx, runId)
	if err != nil {
		return err
	}
	if run.Status != model.RUN_RUNNING {
		if run.Status.IsTerminal() {
			e.statusCache.SetDefault(runId, run.Status)
		}
		return nil
	}
	steps, err := e.storage.ListRunSteps(ctx, runId)
	if err != nil {
		return err
	}
	var next *model.RunStep
	for _, step := range steps {
		if step.Status == model.STEP_RUNNING || step.Status == model.STEP_AWAITING_APPROVAL {
			return nil
		}
		if next == nil && step.Status == model.STEP_PENDING {
			next = step
		}
	}
	if next == nil {
		return e.finalize(ctx, run, steps, model.RUN_COMPLETED, "")
	}

	now := e.now()
	next.Status = model.STEP_RUNNING
	next.StartedAt = &now
	outcome, err := e.execute(ctx, run, next)
	if err != nil {
		var fatal api.FatalError
		if !errors.As(err, &fatal) {
			return err
		}
		logger.Error("integrity failure, failing run", zap.String("runId", run.Id), zap.String("runStepId", next.Id), zap.Error(err))
		e.finishStep(ctx, run, next, model.STEP_FAILED, map[string]any{"error": fatal.Reason})
		return e.finalize(ctx, run, steps, model.RUN_FAILED, fatal.Reason)
	}

	switch outcome.Status {
	case model.STEP_AWAITING_APPROVAL:
		next.Status = model.STEP_AWAITING_APPROVAL
		next.Output = outcome.Output
		run.Status = model.RUN_AWAITING_APPROVAL
		if err := e.storage.SaveRunState(ctx, run, next); err != nil {
			return err
		}
		logger.Info("run awaiting approval", zap.String("runId", run.Id), zap.String("runStepId", next.Id),
			zap.String("approverRole", next.Config.Approval.ApproverRole))
		return nil
	case model.STEP_RUNNING:
		next.Output = outcome.Output
		if err := e.storage.SaveRunState(ctx, run, next); err != nil {
			return err
		}
		logger.Info("run step deferred", zap.String("runId", run.Id), zap.String("runStepId", next.Id), zap.Duration("resume", outcome.Resume))
		return e.enqueue(ctx, model.DelayElapsedTask(run.Id, next.Id), outcome.Resume)
	default:
		e.finishStep(ctx, run, next, outcome.Status, outcome.Output)
		run.Summary = model.Summarize(steps)
		if err := e.storage.SaveRunState(ctx, run, next); err != nil {
			return err
		}
		return e.enqueueAdvance(ctx, run.Id)
	}
}

func (e *Engine) execute(ctx context.Context, run *model.Run, step *model.RunStep) (*Outcome, error) {
	if err := checkSnapshot(run, step); err != nil {
		return nil, err
	}
	executor, ok := e.executors[step.Type]
	if !ok {
		return nil, api.FatalError{RunId: run.Id, Reason: fmt.Sprintf("no executor for step type %s", step.Type)}
	}
	return executor.Execute(ctx, run, step)
}

// finishStep moves step to a terminal status and records it. It does not
// persist anything.
func (e *Engine) finishStep(ctx context.Context, run *model.Run, step *model.RunStep, status model.RunStepStatus, output map[string]any) {
	now := e.now()
	step.Status = status
	step.FinishedAt = &now
	step.Output = output
	if step.StartedAt != nil {
		metrics.RecordStepLatency(ctx, string(step.Type), now.Sub(*step.StartedAt))
	}
	if status == model.STEP_COMPLETED {
		analytics.RecordStepSuccess(run.Id, step.Id, string(step.Type), output)
		return
	}
	reason := ""
	if v, ok := output["error"].(string); ok {
		reason = v
	} else if v, ok := output["reason"].(string); ok {
		reason = v
	}
	analytics.RecordStepFailure(run.Id, step.Id, string(step.Type), reason)
}

// finalize moves run to a terminal status and saves it together with steps.
// steps must be the run's full, ordered step list.
func (e *Engine) finalize(ctx context.Context, run *model.Run, steps []*model.RunStep, status model.RunStatus, reason string) error {
	now := e.now()
	run.Status = status
	run.FinishedAt = &now
	run.Error = reason
	run.Summary = model.Summarize(steps)
	if err := e.storage.SaveRunState(ctx, run, steps...); err != nil {
		logger.Error("error finalizing run", zap.String("runId", run.Id), zap.Error(err))
		return err
	}
	e.statusCache.SetDefault(run.Id, status)
	elapsed := now.Sub(run.StartedAt)
	if err := e.storage.UpdateWorkflowMetrics(ctx, run.WorkflowId, func(m *model.WorkflowMetrics) {
		m.RecordFinish(status, elapsed)
	}); err != nil {
		logger.Error("error updating workflow metrics", zap.String("workflowId", run.WorkflowId), zap.Error(err))
	}
	analytics.RecordRunFinished(run.WorkflowId, run.Id, string(status), elapsed)
	metrics.RecordRunFinished(ctx, string(status))
	logger.Info("run finished", zap.String("runId", run.Id), zap.String("status", string(status)),
		zap.Int("completed", run.Summary.CompletedSteps), zap.Int("failed", run.Summary.FailedSteps),
		zap.Duration("elapsed", elapsed))
	return nil
}

func (e *Engine) completeDelay(ctx context.Context, runId string, runStepId string) error {
	if e.isFinished(runId) {
		return nil
	}
	e.locks.Lock(runId)
	defer e.locks.Unlock(runId)

	run, err := e.storage.GetRun(ctx, runId)
	if err != nil {
		return err
	}
	if run.Status != model.RUN_RUNNING {
		return nil
	}
	steps, err := e.storage.ListRunSteps(ctx, runId)
	if err != nil {
		return err
	}
	var step *model.RunStep
	for _, s := range steps {
		if s.Id == runStepId {
			step = s
		}
	}
	if step == nil {
		return api.NotFoundError{Entity: "run step", Id: runStepId}
	}
	if step.Status != model.STEP_RUNNING {
		return nil
	}
	e.finishStep(ctx, run, step, model.STEP_COMPLETED, map[string]any{
		"delayedMinutes": step.Config.Delay.Minutes,
		"resumedAt":      e.now().Format(time.RFC3339),
	})
	run.Summary = model.Summarize(steps)
	if err := e.storage.SaveRunState(ctx, run, step); err != nil {
		return err
	}
	return e.enqueueAdvance(ctx, run.Id)
}

// Cancel stops a run that has not finished. Steps in flight are failed.
func (e *Engine) Cancel(ctx context.Context, runId string, userId string) error {
	run, err := e.storage.GetRun(ctx, runId)
	if err != nil {
		return err
	}
	if _, err := access.Authorize(ctx, e.directory, run.BusinessId, userId); err != nil {
		return err
	}
	e.locks.Lock(runId)
	defer e.locks.Unlock(runId)

	run, err = e.storage.GetRun(ctx, runId)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return api.ConflictError{Message: fmt.Sprintf("run %s is already %s", runId, run.Status)}
	}
	steps, err := e.storage.ListRunSteps(ctx, runId)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.Status == model.STEP_RUNNING || step.Status == model.STEP_AWAITING_APPROVAL {
			e.finishStep(ctx, run, step, model.STEP_FAILED, map[string]any{
				"cancelled":   true,
				"cancelledBy": userId,
				"reason":      "run cancelled",
			})
		}
	}
	return e.finalize(ctx, run, steps, model.RUN_CANCELLED, "cancelled by "+userId)
}
