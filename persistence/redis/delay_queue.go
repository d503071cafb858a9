package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const TASK_QUEUE_KEY string = "TASKS"

var _ persistence.TaskQueue = new(redisDelayQueue)

// redisDelayQueue keeps one sorted set per partition, scored by the unix
// millisecond at which each task becomes due. Tasks encode deterministically
// so a repeated push only moves the due time.
type redisDelayQueue struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Task]
	now            func() time.Time
}

func NewRedisDelayQueue(conf Config) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Task](),
		now:            time.Now,
	}
}

func (rq *redisDelayQueue) queueName(partition int) string {
	return rq.getNamespaceKey(TASK_QUEUE_KEY, strconv.Itoa(partition))
}

func (rq *redisDelayQueue) Push(ctx context.Context, partition int, task model.Task) error {
	return rq.PushWithDelay(ctx, partition, 0, task)
}

func (rq *redisDelayQueue) PushWithDelay(ctx context.Context, partition int, delay time.Duration, task model.Task) error {
	queueName := rq.queueName(partition)
	message, err := rq.encoderDecoder.Encode(task)
	if err != nil {
		return err
	}
	member := rd.Z{
		Score:  float64(rq.now().Add(delay).UnixMilli()),
		Member: message,
	}
	if err := rq.redisClient.ZAdd(ctx, queueName, member).Err(); err != nil {
		logger.Error("error while push to redis queue", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisDelayQueue) Poll(ctx context.Context, partition int, batchSize int) ([]model.Task, error) {
	queueName := rq.queueName(partition)
	opt := &rd.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(rq.now().UnixMilli(), 10),
		Count: int64(batchSize),
	}
	values, err := rq.redisClient.ZRangeByScore(ctx, queueName, opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []model.Task{}, nil
		}
		logger.Error("error while poll from redis queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	tasks := make([]model.Task, 0, len(values))
	if len(values) == 0 {
		return tasks, nil
	}
	pipe := rq.redisClient.Pipeline()
	removed := make([]*rd.IntCmd, 0, len(values))
	for _, v := range values {
		removed = append(removed, pipe.ZRem(ctx, queueName, v))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while poll from redis queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	for i, v := range values {
		// another poller claimed it first
		if removed[i].Val() == 0 {
			continue
		}
		task, err := rq.encoderDecoder.Decode([]byte(v))
		if err != nil {
			logger.Error("dropping undecodable task", zap.String("queue", queueName), zap.String("message", v), zap.Error(err))
			continue
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}
