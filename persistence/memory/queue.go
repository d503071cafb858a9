package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
)

var _ persistence.TaskQueue = new(memoryQueue)

type queuedTask struct {
	task model.Task
	due  time.Time
}

type memoryQueue struct {
	mu         sync.Mutex
	partitions map[int][]queuedTask
	clock      func() time.Time
}

// NewMemoryQueue returns a delay queue kept in process memory. clock may be
// nil, in which case time.Now is used.
func NewMemoryQueue(clock func() time.Time) *memoryQueue {
	if clock == nil {
		clock = time.Now
	}
	return &memoryQueue{
		partitions: make(map[int][]queuedTask),
		clock:      clock,
	}
}

func (q *memoryQueue) Push(ctx context.Context, partition int, task model.Task) error {
	return q.PushWithDelay(ctx, partition, 0, task)
}

func (q *memoryQueue) PushWithDelay(ctx context.Context, partition int, delay time.Duration, task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	due := q.clock().Add(delay)
	tasks := q.partitions[partition]
	for i := range tasks {
		if tasks[i].task == task {
			tasks[i].due = due
			q.sort(partition)
			return nil
		}
	}
	q.partitions[partition] = append(tasks, queuedTask{task: task, due: due})
	q.sort(partition)
	return nil
}

func (q *memoryQueue) sort(partition int) {
	tasks := q.partitions[partition]
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].due.Before(tasks[j].due)
	})
}

func (q *memoryQueue) Poll(ctx context.Context, partition int, batchSize int) ([]model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	tasks := q.partitions[partition]
	out := make([]model.Task, 0)
	i := 0
	for ; i < len(tasks) && len(out) < batchSize; i++ {
		if tasks[i].due.After(now) {
			break
		}
		out = append(out, tasks[i].task)
	}
	q.partitions[partition] = append([]queuedTask{}, tasks[i:]...)
	return out, nil
}

// Len returns the number of queued tasks in a partition, due or not.
func (q *memoryQueue) Len(partition int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.partitions[partition])
}

func (q *memoryQueue) Close() error {
	return nil
}
