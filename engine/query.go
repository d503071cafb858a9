package engine

import (
	"context"

	"github.com/mohitkumar/stepflow/access"
	"github.com/mohitkumar/stepflow/model"
)

func (e *Engine) GetRun(ctx context.Context, userId string, runId string) (*model.RunWithSteps, error) {
	run, err := e.storage.GetRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	if _, err := access.Authorize(ctx, e.directory, run.BusinessId, userId); err != nil {
		return nil, err
	}
	steps, err := e.storage.ListRunSteps(ctx, runId)
	if err != nil {
		return nil, err
	}
	return &model.RunWithSteps{Run: *run, Steps: steps}, nil
}

// ListRuns returns the runs of a workflow, most recently started first.
func (e *Engine) ListRuns(ctx context.Context, userId string, workflowId string) ([]*model.Run, error) {
	wf, err := e.storage.GetWorkflow(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	if _, err := access.Authorize(ctx, e.directory, wf.BusinessId, userId); err != nil {
		return nil, err
	}
	return e.storage.ListRuns(ctx, workflowId)
}
