package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/mohitkumar/stepflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type WorkflowStore interface {
	// CreateWorkflow saves a new workflow with its steps in one atomic
	// operation, numbering the steps densely from zero. An existing id is a
	// conflict.
	CreateWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error
	// SaveWorkflow writes the definition of wf. The metrics of a stored
	// workflow are kept and copied back into wf; only UpdateWorkflowMetrics
	// changes them.
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, businessId string) ([]*model.Workflow, error)
	ListWorkflowsByTrigger(ctx context.Context, triggerType model.TriggerType) ([]*model.Workflow, error)
	UpdateWorkflowMetrics(ctx context.Context, id string, fn func(*model.WorkflowMetrics)) error

	// AppendStep assigns the next dense order to step and saves it in one
	// atomic operation.
	AppendStep(ctx context.Context, step *model.WorkflowStep) error
	SaveStep(ctx context.Context, step *model.WorkflowStep) error
	GetStep(ctx context.Context, workflowId string, stepId string) (*model.WorkflowStep, error)
	ListSteps(ctx context.Context, workflowId string) ([]*model.WorkflowStep, error)
}

type RunStore interface {
	// CreateRun saves a run together with all of its run steps atomically.
	CreateRun(ctx context.Context, run *model.Run, steps []*model.RunStep) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, workflowId string) ([]*model.Run, error)
	// SaveRunState writes a run and any of its steps atomically.
	SaveRunState(ctx context.Context, run *model.Run, steps ...*model.RunStep) error
	GetRunStep(ctx context.Context, id string) (*model.RunStep, error)
	ListRunSteps(ctx context.Context, runId string) ([]*model.RunStep, error)
	ListRunStepsByStatus(ctx context.Context, status model.RunStepStatus) ([]*model.RunStep, error)
}

type Storage interface {
	WorkflowStore
	RunStore
	Ping(ctx context.Context) error
	Close() error
}

// TaskQueue is a partitioned delay queue. A task becomes visible to Poll once
// its due time has passed; pushing an identical pending task replaces it.
type TaskQueue interface {
	Push(ctx context.Context, partition int, task model.Task) error
	PushWithDelay(ctx context.Context, partition int, delay time.Duration, task model.Task) error
	Poll(ctx context.Context, partition int, batchSize int) ([]model.Task, error)
	Close() error
}
