package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

const maxTaskAttempts = 10
const taskRetryInterval = 50 * time.Millisecond
const taskRetryMaxInterval = 30 * time.Second

var _ Executor = new(taskExecutor)

// taskExecutor drains one queue partition. All tasks of a run land in the
// same partition, so a run is never advanced by two executors at once.
type taskExecutor struct {
	partition int
	batchSize int
	queue     persistence.TaskQueue
	handler   TaskHandler
	wg        *sync.WaitGroup
	tw        *util.Worker
	stop      chan struct{}
}

func NewTaskExecutor(partition int, batchSize int, pollInterval time.Duration, queue persistence.TaskQueue, handler TaskHandler, wg *sync.WaitGroup) *taskExecutor {
	ex := &taskExecutor{
		partition: partition,
		batchSize: batchSize,
		queue:     queue,
		handler:   handler,
		stop:      make(chan struct{}),
		wg:        wg,
	}
	ex.tw = util.NewWorker(fmt.Sprintf("task-executor-%d", partition), pollInterval, ex.stop, ex.handle, ex.wg)
	return ex
}

func (ex *taskExecutor) Start() {
	if ex.IsRunning() {
		return
	}
	ex.tw.Start()
}

func (ex *taskExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *taskExecutor) Stop() {
	if !ex.IsRunning() {
		return
	}
	ex.tw.Stop()
}

func (ex *taskExecutor) handle() bool {
	ctx := context.Background()
	tasks, err := ex.queue.Poll(ctx, ex.partition, ex.batchSize)
	if err != nil {
		logger.Error("error while polling tasks", zap.Int("partition", ex.partition), zap.Error(err))
		return false
	}
	if len(tasks) == 0 {
		return false
	}
	for _, task := range tasks {
		if err := ex.handler.HandleTask(ctx, task); err != nil {
			logger.Error("error handling task", zap.Int("partition", ex.partition), zap.String("runId", task.RunId),
				zap.String("kind", string(task.Kind)), zap.Int("attempt", task.Attempt), zap.Error(err))
			ex.retry(ctx, task, err)
		}
	}
	return true
}

// retry puts a failed task back on its partition after an exponential delay.
// Errors a retry can not fix, and tasks out of attempts, are dropped.
func (ex *taskExecutor) retry(ctx context.Context, task model.Task, err error) {
	if api.IsPermanent(err) {
		return
	}
	if task.Attempt+1 >= maxTaskAttempts {
		logger.Error("task out of attempts, dropping", zap.String("runId", task.RunId), zap.String("kind", string(task.Kind)))
		return
	}
	delay := retryDelay(task.Attempt)
	if err := ex.queue.PushWithDelay(ctx, ex.partition, delay, task.Retry()); err != nil {
		logger.Error("error requeueing task", zap.String("runId", task.RunId), zap.Error(err))
	}
}

func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(taskRetryInterval),
		backoff.WithMaxInterval(taskRetryMaxInterval),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
