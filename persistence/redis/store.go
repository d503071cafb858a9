package redis

import (
	"context"
	"errors"
	"sort"

	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	rd "github.com/redis/go-redis/v9"
)

const WORKFLOW_KEY string = "WF"
const WORKFLOW_BY_BUSINESS_KEY string = "WF_BY_BIZ"
const WORKFLOW_BY_TRIGGER_KEY string = "WF_BY_TRIGGER"
const STEPS_KEY string = "STEPS"
const RUN_KEY string = "RUN"
const RUNS_BY_WORKFLOW_KEY string = "RUNS_BY_WF"
const RUN_STEP_KEY string = "RUNSTEP"
const RUN_STEPS_KEY string = "RUN_STEPS"
const RUN_STEP_STATUS_KEY string = "RUNSTEP_STATUS"

const maxTxRetries = 16

var runStepStatuses = []model.RunStepStatus{
	model.STEP_PENDING,
	model.STEP_RUNNING,
	model.STEP_COMPLETED,
	model.STEP_FAILED,
	model.STEP_AWAITING_APPROVAL,
}

var _ persistence.Storage = new(redisStorage)

type redisStorage struct {
	*baseDao
	wfEncDec      util.EncoderDecoder[model.Workflow]
	stepEncDec    util.EncoderDecoder[model.WorkflowStep]
	runEncDec     util.EncoderDecoder[model.Run]
	runStepEncDec util.EncoderDecoder[model.RunStep]
}

func NewRedisStorage(conf Config) *redisStorage {
	return &redisStorage{
		baseDao:       newBaseDao(conf),
		wfEncDec:      util.NewJsonEncoderDecoder[model.Workflow](),
		stepEncDec:    util.NewJsonEncoderDecoder[model.WorkflowStep](),
		runEncDec:     util.NewJsonEncoderDecoder[model.Run](),
		runStepEncDec: util.NewJsonEncoderDecoder[model.RunStep](),
	}
}

func storageError(err error) error {
	return persistence.StorageLayerError{Message: err.Error()}
}

// watch runs fn in an optimistic transaction over keys, retrying when a
// watched key changes underneath it.
func (r *redisStorage) watch(ctx context.Context, fn func(tx *rd.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.redisClient.Watch(ctx, fn, keys...)
		if errors.Is(err, rd.TxFailedErr) {
			continue
		}
		return err
	}
	return persistence.StorageLayerError{Message: "too many concurrent updates for " + keys[0]}
}

func (r *redisStorage) CreateWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error {
	data, err := r.wfEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	stepData := make([][]byte, 0, len(steps))
	for i, step := range steps {
		step.Order = i
		d, err := r.stepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		stepData = append(stepData, d)
	}
	key := r.getNamespaceKey(WORKFLOW_KEY, wf.Id)
	stepsKey := r.getNamespaceKey(STEPS_KEY, wf.Id)
	return r.watch(ctx, func(tx *rd.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return storageError(err)
		}
		if exists > 0 {
			return api.ConflictError{Message: "workflow " + wf.Id + " already exists"}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			r.writeWorkflow(ctx, pipe, nil, wf, data)
			for i, step := range steps {
				pipe.HSet(ctx, stepsKey, step.Id, stepData[i])
			}
			return nil
		})
		return err
	}, key)
}

func (r *redisStorage) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	key := r.getNamespaceKey(WORKFLOW_KEY, wf.Id)
	return r.watch(ctx, func(tx *rd.Tx) error {
		old, err := r.getWorkflow(ctx, tx, wf.Id)
		if err != nil && !api.IsNotFound(err) {
			return err
		}
		if old != nil {
			wf.Metrics = old.Metrics
		}
		data, err := r.wfEncDec.Encode(*wf)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			r.writeWorkflow(ctx, pipe, old, wf, data)
			return nil
		})
		return err
	}, key)
}

func (r *redisStorage) writeWorkflow(ctx context.Context, pipe rd.Pipeliner, old *model.Workflow, wf *model.Workflow, data []byte) {
	if old != nil && old.Trigger.Type != wf.Trigger.Type {
		pipe.SRem(ctx, r.getNamespaceKey(WORKFLOW_BY_TRIGGER_KEY, string(old.Trigger.Type)), wf.Id)
	}
	pipe.Set(ctx, r.getNamespaceKey(WORKFLOW_KEY, wf.Id), data, 0)
	pipe.ZAdd(ctx, r.getNamespaceKey(WORKFLOW_BY_BUSINESS_KEY, wf.BusinessId), rd.Z{
		Score:  float64(wf.CreatedAt.UnixMilli()),
		Member: wf.Id,
	})
	pipe.SAdd(ctx, r.getNamespaceKey(WORKFLOW_BY_TRIGGER_KEY, string(wf.Trigger.Type)), wf.Id)
}

type getter interface {
	Get(ctx context.Context, key string) *rd.StringCmd
}

func (r *redisStorage) getWorkflow(ctx context.Context, c getter, id string) (*model.Workflow, error) {
	data, err := c.Get(ctx, r.getNamespaceKey(WORKFLOW_KEY, id)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "workflow", Id: id}
		}
		return nil, storageError(err)
	}
	return r.wfEncDec.Decode(data)
}

func (r *redisStorage) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return r.getWorkflow(ctx, r.redisClient, id)
}

func (r *redisStorage) ListWorkflows(ctx context.Context, businessId string) ([]*model.Workflow, error) {
	ids, err := r.redisClient.ZRange(ctx, r.getNamespaceKey(WORKFLOW_BY_BUSINESS_KEY, businessId), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	return r.getWorkflows(ctx, ids)
}

func (r *redisStorage) ListWorkflowsByTrigger(ctx context.Context, triggerType model.TriggerType) ([]*model.Workflow, error) {
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(WORKFLOW_BY_TRIGGER_KEY, string(triggerType))).Result()
	if err != nil {
		return nil, storageError(err)
	}
	wfs, err := r.getWorkflows(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(wfs, func(i, j int) bool {
		return wfs[i].CreatedAt.Before(wfs[j].CreatedAt)
	})
	return wfs, nil
}

func (r *redisStorage) getWorkflows(ctx context.Context, ids []string) ([]*model.Workflow, error) {
	out := make([]*model.Workflow, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.getNamespaceKey(WORKFLOW_KEY, id))
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storageError(err)
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		wf, err := r.wfEncDec.Decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *redisStorage) UpdateWorkflowMetrics(ctx context.Context, id string, fn func(*model.WorkflowMetrics)) error {
	key := r.getNamespaceKey(WORKFLOW_KEY, id)
	return r.watch(ctx, func(tx *rd.Tx) error {
		wf, err := r.getWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		fn(&wf.Metrics)
		data, err := r.wfEncDec.Encode(*wf)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (r *redisStorage) AppendStep(ctx context.Context, step *model.WorkflowStep) error {
	stepsKey := r.getNamespaceKey(STEPS_KEY, step.WorkflowId)
	return r.watch(ctx, func(tx *rd.Tx) error {
		exists, err := tx.Exists(ctx, r.getNamespaceKey(WORKFLOW_KEY, step.WorkflowId)).Result()
		if err != nil {
			return storageError(err)
		}
		if exists == 0 {
			return api.NotFoundError{Entity: "workflow", Id: step.WorkflowId}
		}
		n, err := tx.HLen(ctx, stepsKey).Result()
		if err != nil {
			return storageError(err)
		}
		step.Order = int(n)
		data, err := r.stepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.HSet(ctx, stepsKey, step.Id, data)
			return nil
		})
		return err
	}, stepsKey)
}

func (r *redisStorage) SaveStep(ctx context.Context, step *model.WorkflowStep) error {
	stepsKey := r.getNamespaceKey(STEPS_KEY, step.WorkflowId)
	exists, err := r.redisClient.HExists(ctx, stepsKey, step.Id).Result()
	if err != nil {
		return storageError(err)
	}
	if !exists {
		return api.NotFoundError{Entity: "step", Id: step.Id}
	}
	data, err := r.stepEncDec.Encode(*step)
	if err != nil {
		return err
	}
	if err := r.redisClient.HSet(ctx, stepsKey, step.Id, data).Err(); err != nil {
		return storageError(err)
	}
	return nil
}

func (r *redisStorage) GetStep(ctx context.Context, workflowId string, stepId string) (*model.WorkflowStep, error) {
	data, err := r.redisClient.HGet(ctx, r.getNamespaceKey(STEPS_KEY, workflowId), stepId).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "step", Id: stepId}
		}
		return nil, storageError(err)
	}
	return r.stepEncDec.Decode(data)
}

func (r *redisStorage) ListSteps(ctx context.Context, workflowId string) ([]*model.WorkflowStep, error) {
	values, err := r.redisClient.HVals(ctx, r.getNamespaceKey(STEPS_KEY, workflowId)).Result()
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]*model.WorkflowStep, 0, len(values))
	for _, v := range values {
		step, err := r.stepEncDec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (r *redisStorage) CreateRun(ctx context.Context, run *model.Run, steps []*model.RunStep) error {
	runData, err := r.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	stepData := make([][]byte, 0, len(steps))
	for _, step := range steps {
		data, err := r.runStepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		stepData = append(stepData, data)
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, r.getNamespaceKey(RUN_KEY, run.Id), runData, 0)
		pipe.ZAdd(ctx, r.getNamespaceKey(RUNS_BY_WORKFLOW_KEY, run.WorkflowId), rd.Z{
			Score:  float64(run.StartedAt.UnixMilli()),
			Member: run.Id,
		})
		for i, step := range steps {
			pipe.Set(ctx, r.getNamespaceKey(RUN_STEP_KEY, step.Id), stepData[i], 0)
			pipe.ZAdd(ctx, r.getNamespaceKey(RUN_STEPS_KEY, run.Id), rd.Z{
				Score:  float64(step.Order),
				Member: step.Id,
			})
			pipe.SAdd(ctx, r.getNamespaceKey(RUN_STEP_STATUS_KEY, string(step.Status)), step.Id)
		}
		return nil
	})
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (r *redisStorage) GetRun(ctx context.Context, id string) (*model.Run, error) {
	data, err := r.redisClient.Get(ctx, r.getNamespaceKey(RUN_KEY, id)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "run", Id: id}
		}
		return nil, storageError(err)
	}
	return r.runEncDec.Decode(data)
}

func (r *redisStorage) ListRuns(ctx context.Context, workflowId string) ([]*model.Run, error) {
	ids, err := r.redisClient.ZRevRange(ctx, r.getNamespaceKey(RUNS_BY_WORKFLOW_KEY, workflowId), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]*model.Run, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (r *redisStorage) SaveRunState(ctx context.Context, run *model.Run, steps ...*model.RunStep) error {
	runData, err := r.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	keys := []string{r.getNamespaceKey(RUN_KEY, run.Id)}
	stepData := make([][]byte, 0, len(steps))
	for _, step := range steps {
		data, err := r.runStepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		stepData = append(stepData, data)
		keys = append(keys, r.getNamespaceKey(RUN_STEP_KEY, step.Id))
	}
	n, err := r.redisClient.Exists(ctx, keys[0]).Result()
	if err != nil {
		return storageError(err)
	}
	if n == 0 {
		return api.NotFoundError{Entity: "run", Id: run.Id}
	}
	for i, step := range steps {
		n, err := r.redisClient.Exists(ctx, keys[i+1]).Result()
		if err != nil {
			return storageError(err)
		}
		if n == 0 {
			return api.NotFoundError{Entity: "run step", Id: step.Id}
		}
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, keys[0], runData, 0)
		for i, step := range steps {
			pipe.Set(ctx, keys[i+1], stepData[i], 0)
			for _, status := range runStepStatuses {
				if status != step.Status {
					pipe.SRem(ctx, r.getNamespaceKey(RUN_STEP_STATUS_KEY, string(status)), step.Id)
				}
			}
			pipe.SAdd(ctx, r.getNamespaceKey(RUN_STEP_STATUS_KEY, string(step.Status)), step.Id)
		}
		return nil
	})
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (r *redisStorage) GetRunStep(ctx context.Context, id string) (*model.RunStep, error) {
	data, err := r.redisClient.Get(ctx, r.getNamespaceKey(RUN_STEP_KEY, id)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "run step", Id: id}
		}
		return nil, storageError(err)
	}
	return r.runStepEncDec.Decode(data)
}

func (r *redisStorage) ListRunSteps(ctx context.Context, runId string) ([]*model.RunStep, error) {
	ids, err := r.redisClient.ZRangeByScore(ctx, r.getNamespaceKey(RUN_STEPS_KEY, runId), &rd.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, storageError(err)
	}
	return r.getRunSteps(ctx, ids)
}

func (r *redisStorage) ListRunStepsByStatus(ctx context.Context, status model.RunStepStatus) ([]*model.RunStep, error) {
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(RUN_STEP_STATUS_KEY, string(status))).Result()
	if err != nil {
		return nil, storageError(err)
	}
	out, err := r.getRunSteps(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunId != out[j].RunId {
			return out[i].RunId < out[j].RunId
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (r *redisStorage) getRunSteps(ctx context.Context, ids []string) ([]*model.RunStep, error) {
	out := make([]*model.RunStep, 0, len(ids))
	for _, id := range ids {
		step, err := r.GetRunStep(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}
