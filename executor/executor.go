package executor

import (
	"context"
	"time"

	"github.com/mohitkumar/stepflow/model"
)

type Executor interface {
	Start()
	Stop()
	IsRunning() bool
}

type TaskHandler interface {
	HandleTask(ctx context.Context, task model.Task) error
}

type ApprovalScanner interface {
	OverdueApprovals(ctx context.Context, threshold time.Duration) ([]*model.RunStep, error)
}

type RunRecoverer interface {
	RecoverRuns(ctx context.Context, grace time.Duration) (int, error)
}
