package engine

import (
	"context"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

// RecoverRuns queues work again for running runs that may have lost their
// task: a run with a pending step and nothing in flight gets an advance, and
// a delay step overdue by more than grace gets its delay_elapsed task. Runs
// younger than grace are skipped. A duplicate task is a no-op for the driver.
// It returns the number of tasks queued.
func (e *Engine) RecoverRuns(ctx context.Context, grace time.Duration) (int, error) {
	runIds := make([]string, 0)
	seen := make(map[string]bool)
	for _, status := range []model.RunStepStatus{model.STEP_PENDING, model.STEP_RUNNING} {
		steps, err := e.storage.ListRunStepsByStatus(ctx, status)
		if err != nil {
			return 0, err
		}
		for _, step := range steps {
			if !seen[step.RunId] {
				seen[step.RunId] = true
				runIds = append(runIds, step.RunId)
			}
		}
	}

	now := e.now()
	queued := 0
	for _, runId := range runIds {
		task, ok, err := e.recoveryTask(ctx, runId, now, grace)
		if err != nil {
			logger.Error("error inspecting run for recovery", zap.String("runId", runId), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := e.enqueue(ctx, task, 0); err != nil {
			return queued, err
		}
		logger.Info("run recovered", zap.String("runId", runId), zap.String("kind", string(task.Kind)))
		queued++
	}
	return queued, nil
}

func (e *Engine) recoveryTask(ctx context.Context, runId string, now time.Time, grace time.Duration) (model.Task, bool, error) {
	if e.isFinished(runId) {
		return model.Task{}, false, nil
	}
	run, err := e.storage.GetRun(ctx, runId)
	if err != nil {
		return model.Task{}, false, err
	}
	if run.Status != model.RUN_RUNNING || now.Sub(run.StartedAt) < grace {
		return model.Task{}, false, nil
	}
	steps, err := e.storage.ListRunSteps(ctx, runId)
	if err != nil {
		return model.Task{}, false, err
	}
	pending := false
	for _, step := range steps {
		switch step.Status {
		case model.STEP_AWAITING_APPROVAL:
			return model.Task{}, false, nil
		case model.STEP_RUNNING:
			if step.Type != model.STEP_DELAY || step.Config.Delay == nil || step.StartedAt == nil {
				return model.Task{}, false, nil
			}
			due := step.StartedAt.Add(time.Duration(step.Config.Delay.Minutes)*time.Minute + grace)
			if now.Before(due) {
				return model.Task{}, false, nil
			}
			return model.DelayElapsedTask(run.Id, step.Id), true, nil
		case model.STEP_PENDING:
			pending = true
		}
	}
	if !pending {
		return model.Task{}, false, nil
	}
	return model.AdvanceTask(run.Id), true, nil
}
