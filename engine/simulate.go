package engine

import (
	"context"
	"fmt"

	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/util"
)

// Simulate previews what a run of the workflow would do with the given
// params. Nothing is persisted and no task is queued.
func (e *Engine) Simulate(ctx context.Context, req model.WorkflowRunRequest) (*model.Simulation, error) {
	wf, err := e.runnableWorkflow(ctx, req)
	if err != nil {
		return nil, err
	}
	steps, err := e.storage.ListSteps(ctx, wf.Id)
	if err != nil {
		return nil, err
	}
	sim := &model.Simulation{
		WorkflowId: wf.Id,
		Steps:      make([]model.SimulatedStep, 0, len(steps)),
	}
	params := map[string]any{"params": req.Params}
	for i, step := range steps {
		preview := model.SimulatedStep{
			Order: step.Order,
			Type:  step.Type,
			Title: step.Title,
		}
		if step.Order != i {
			sim.Problems = append(sim.Problems, fmt.Sprintf("step %s has order %d, expected %d", step.Id, step.Order, i))
		}
		if err := step.Validate(); err != nil {
			preview.Outcome = "invalid"
			preview.Detail = map[string]any{"error": err.Error()}
			sim.Problems = append(sim.Problems, fmt.Sprintf("step %s: %s", step.Id, err))
			sim.Steps = append(sim.Steps, preview)
			continue
		}
		switch step.Type {
		case model.STEP_AGENT:
			agent := step.Config.Agent.AgentId
			if agent == "" {
				agent = DEFAULT_AGENT
			}
			preview.Outcome = "would_complete"
			preview.Detail = map[string]any{
				"agentId": agent,
				"prompt":  util.ResolveTemplate(params, step.Config.Agent.Prompt),
			}
		case model.STEP_APPROVAL:
			preview.Outcome = "would_await_approval"
			preview.Detail = map[string]any{
				"approverRole": step.Config.Approval.ApproverRole,
			}
		case model.STEP_DELAY:
			preview.Outcome = "would_skip"
			preview.Detail = map[string]any{
				"delayMinutes": step.Config.Delay.Minutes,
				"reason":       "dry run",
			}
		}
		sim.Steps = append(sim.Steps, preview)
	}
	sim.Valid = len(sim.Problems) == 0
	return sim, nil
}
