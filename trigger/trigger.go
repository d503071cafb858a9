package trigger

import (
	"context"

	"github.com/mohitkumar/stepflow/model"
)

// RunStarter is the part of the engine every trigger converges on.
type RunStarter interface {
	StartRun(ctx context.Context, req model.WorkflowRunRequest, mode model.TriggerMode) (string, error)
}
