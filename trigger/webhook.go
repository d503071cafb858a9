package trigger

import (
	"context"

	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
)

// FindByEventKey returns the active webhook workflow listening on eventKey.
func FindByEventKey(ctx context.Context, storage persistence.WorkflowStore, eventKey string) (*model.Workflow, error) {
	wfs, err := storage.ListWorkflowsByTrigger(ctx, model.TRIGGER_WEBHOOK)
	if err != nil {
		return nil, err
	}
	for _, wf := range wfs {
		if wf.Active && wf.Trigger.EventKey == eventKey {
			return wf, nil
		}
	}
	return nil, api.NotFoundError{Entity: "webhook", Id: eventKey}
}
