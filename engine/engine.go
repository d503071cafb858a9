package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/stepflow/access"
	"github.com/mohitkumar/stepflow/cluster"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type DelayMode string

// DELAY_DEFER parks a delay step until its duration has passed. DELAY_SKIP
// completes it at once with a skip marker, which is what dry runs always do.
const DELAY_DEFER DelayMode = "defer"
const DELAY_SKIP DelayMode = "skip"

type Config struct {
	DelayMode      DelayMode
	StatusCacheTTL time.Duration
	EnqueueRetries uint64
	LockStripes    int
}

// Engine drives runs one step at a time. Every advance is a task on the
// partitioned queue; callers never advance a run inline.
type Engine struct {
	storage     persistence.Storage
	queue       persistence.TaskQueue
	ring        *cluster.Ring
	directory   access.Directory
	executors   map[model.StepType]StepExecutor
	locks       *util.StripedLock
	statusCache *cache.Cache
	conf        Config
	clock       func() time.Time
}

func NewEngine(storage persistence.Storage, queue persistence.TaskQueue, ring *cluster.Ring,
	directory access.Directory, invoker AgentInvoker, conf Config) *Engine {
	if conf.DelayMode == "" {
		conf.DelayMode = DELAY_DEFER
	}
	if conf.StatusCacheTTL == 0 {
		conf.StatusCacheTTL = 10 * time.Minute
	}
	if conf.EnqueueRetries == 0 {
		conf.EnqueueRetries = 3
	}
	e := &Engine{
		storage:     storage,
		queue:       queue,
		ring:        ring,
		directory:   directory,
		locks:       util.NewStripedLock(conf.LockStripes),
		statusCache: cache.New(conf.StatusCacheTTL, 2*conf.StatusCacheTTL),
		conf:        conf,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	if invoker == nil {
		invoker = NewSyntheticInvoker(e.now)
	}
	e.executors = map[model.StepType]StepExecutor{
		model.STEP_AGENT:    &agentExecutor{invoker: invoker},
		model.STEP_APPROVAL: &approvalExecutor{},
		model.STEP_DELAY:    &delayExecutor{mode: conf.DelayMode, now: e.now},
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// HandleTask runs one queued task. It is what the partition executors call.
func (e *Engine) HandleTask(ctx context.Context, task model.Task) error {
	switch task.Kind {
	case model.TASK_ADVANCE:
		return e.Advance(ctx, task.RunId)
	case model.TASK_DELAY_ELAPSED:
		return e.completeDelay(ctx, task.RunId, task.RunStepId)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (e *Engine) enqueue(ctx context.Context, task model.Task, delay time.Duration) error {
	partition := e.ring.GetPartition(task.RunId)
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.conf.EnqueueRetries), ctx)
	err := backoff.Retry(func() error {
		return e.queue.PushWithDelay(ctx, partition, delay, task)
	}, policy)
	if err != nil {
		logger.Error("error enqueueing task", zap.String("runId", task.RunId), zap.String("kind", string(task.Kind)),
			zap.Int("partition", partition), zap.Error(err))
		return err
	}
	logger.Debug("task enqueued", zap.String("runId", task.RunId), zap.String("kind", string(task.Kind)),
		zap.Int("partition", partition), zap.Duration("delay", delay))
	return nil
}

func (e *Engine) enqueueAdvance(ctx context.Context, runId string) error {
	return e.enqueue(ctx, model.AdvanceTask(runId), 0)
}

// isFinished answers from the status cache only; a miss means unknown.
func (e *Engine) isFinished(runId string) bool {
	status, ok := e.statusCache.Get(runId)
	return ok && status.(model.RunStatus).IsTerminal()
}
