package engine

import (
	"context"
	"time"

	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/util"
)

// Outcome is what executing one run step produced. A STEP_RUNNING outcome
// means the step is parked and resumes after Resume has passed.
type Outcome struct {
	Status model.RunStepStatus
	Output map[string]any
	Resume time.Duration
}

type StepExecutor interface {
	Execute(ctx context.Context, run *model.Run, step *model.RunStep) (*Outcome, error)
}

type agentExecutor struct {
	invoker AgentInvoker
}

func (a *agentExecutor) Execute(ctx context.Context, run *model.Run, step *model.RunStep) (*Outcome, error) {
	cfg := step.Config.Agent
	prompt := util.ResolveTemplate(map[string]any{"params": run.Params}, cfg.Prompt)
	output, err := a.invoker.Invoke(ctx, AgentRequest{
		RunId:     run.Id,
		RunStepId: step.Id,
		AgentId:   cfg.AgentId,
		Title:     step.Title,
		Prompt:    prompt,
		DryRun:    run.DryRun,
	})
	if err != nil {
		return &Outcome{
			Status: model.STEP_FAILED,
			Output: map[string]any{"error": err.Error()},
		}, nil
	}
	return &Outcome{Status: model.STEP_COMPLETED, Output: output}, nil
}

type approvalExecutor struct {
}

func (a *approvalExecutor) Execute(ctx context.Context, run *model.Run, step *model.RunStep) (*Outcome, error) {
	return &Outcome{Status: model.STEP_AWAITING_APPROVAL}, nil
}

type delayExecutor struct {
	mode DelayMode
	now  func() time.Time
}

func (d *delayExecutor) Execute(ctx context.Context, run *model.Run, step *model.RunStep) (*Outcome, error) {
	minutes := step.Config.Delay.Minutes
	if run.DryRun || d.mode == DELAY_SKIP {
		reason := "delay steps are skipped"
		if run.DryRun {
			reason = "dry run"
		}
		return &Outcome{
			Status: model.STEP_COMPLETED,
			Output: map[string]any{
				"skipped":      true,
				"reason":       reason,
				"delayMinutes": minutes,
			},
		}, nil
	}
	return &Outcome{
		Status: model.STEP_RUNNING,
		Resume: time.Duration(minutes) * time.Minute,
		Output: map[string]any{
			"delayMinutes": minutes,
			"resumeAt":     d.now().Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339),
		},
	}, nil
}

// checkSnapshot rejects a run step whose captured config can not drive it.
func checkSnapshot(run *model.Run, step *model.RunStep) error {
	if err := step.Config.Validate(step.Type); err != nil {
		return api.FatalError{RunId: run.Id, Reason: "run step " + step.Id + ": " + err.Error()}
	}
	return nil
}
