package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(recoveryExecutor)

// recoveryExecutor periodically re-queues runs that stopped making progress
// because a task was lost between a state write and its enqueue.
type recoveryExecutor struct {
	recoverer RunRecoverer
	grace     time.Duration
	wg        *sync.WaitGroup
	tw        *util.TickWorker
	stop      chan struct{}
}

func NewRecoveryExecutor(recoverer RunRecoverer, grace time.Duration, interval time.Duration, wg *sync.WaitGroup) *recoveryExecutor {
	ex := &recoveryExecutor{
		recoverer: recoverer,
		grace:     grace,
		stop:      make(chan struct{}),
		wg:        wg,
	}
	ex.tw = util.NewTickWorker("recovery-executor", interval, ex.stop, ex.scan, ex.wg)
	return ex
}

func (ex *recoveryExecutor) Start() {
	if ex.IsRunning() {
		return
	}
	ex.tw.Start()
}

func (ex *recoveryExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *recoveryExecutor) Stop() {
	if !ex.IsRunning() {
		return
	}
	ex.tw.Stop()
}

func (ex *recoveryExecutor) scan() {
	n, err := ex.recoverer.RecoverRuns(context.Background(), ex.grace)
	if err != nil {
		logger.Error("error recovering runs", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("recovery queued tasks", zap.Int("count", n))
	}
}
