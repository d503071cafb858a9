package memory

import (
	"context"
	"sort"
	"sync"

	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
)

var _ persistence.Storage = new(memoryStore)

// memoryStore keeps encoded records so callers never share memory with the
// store, the same way the redis store behaves.
type memoryStore struct {
	mu        sync.RWMutex
	workflows map[string][]byte
	steps     map[string]map[string][]byte
	runs      map[string][]byte
	runSteps  map[string][]byte
	stepsOf   map[string][]string

	wfEncDec      util.EncoderDecoder[model.Workflow]
	stepEncDec    util.EncoderDecoder[model.WorkflowStep]
	runEncDec     util.EncoderDecoder[model.Run]
	runStepEncDec util.EncoderDecoder[model.RunStep]
}

func NewMemoryStore() *memoryStore {
	return &memoryStore{
		workflows:     make(map[string][]byte),
		steps:         make(map[string]map[string][]byte),
		runs:          make(map[string][]byte),
		runSteps:      make(map[string][]byte),
		stepsOf:       make(map[string][]string),
		wfEncDec:      util.NewJsonEncoderDecoder[model.Workflow](),
		stepEncDec:    util.NewJsonEncoderDecoder[model.WorkflowStep](),
		runEncDec:     util.NewJsonEncoderDecoder[model.Run](),
		runStepEncDec: util.NewJsonEncoderDecoder[model.RunStep](),
	}
}

func (s *memoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

func (s *memoryStore) CreateWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.Id]; ok {
		return api.ConflictError{Message: "workflow " + wf.Id + " already exists"}
	}
	data, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	stepData := make(map[string][]byte, len(steps))
	for i, step := range steps {
		step.Order = i
		d, err := s.stepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		stepData[step.Id] = d
	}
	s.workflows[wf.Id] = data
	s.steps[wf.Id] = stepData
	return nil
}

func (s *memoryStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.workflows[wf.Id]; ok {
		old, err := s.wfEncDec.Decode(data)
		if err != nil {
			return err
		}
		wf.Metrics = old.Metrics
	}
	data, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	s.workflows[wf.Id] = data
	return nil
}

func (s *memoryStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.workflows[id]
	if !ok {
		return nil, api.NotFoundError{Entity: "workflow", Id: id}
	}
	return s.wfEncDec.Decode(data)
}

func (s *memoryStore) ListWorkflows(ctx context.Context, businessId string) ([]*model.Workflow, error) {
	return s.filterWorkflows(func(wf *model.Workflow) bool {
		return wf.BusinessId == businessId
	})
}

func (s *memoryStore) ListWorkflowsByTrigger(ctx context.Context, triggerType model.TriggerType) ([]*model.Workflow, error) {
	return s.filterWorkflows(func(wf *model.Workflow) bool {
		return wf.Trigger.Type == triggerType
	})
}

func (s *memoryStore) filterWorkflows(keep func(*model.Workflow) bool) ([]*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Workflow, 0)
	for _, data := range s.workflows {
		wf, err := s.wfEncDec.Decode(data)
		if err != nil {
			return nil, err
		}
		if keep(wf) {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStore) UpdateWorkflowMetrics(ctx context.Context, id string, fn func(*model.WorkflowMetrics)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.workflows[id]
	if !ok {
		return api.NotFoundError{Entity: "workflow", Id: id}
	}
	wf, err := s.wfEncDec.Decode(data)
	if err != nil {
		return err
	}
	fn(&wf.Metrics)
	data, err = s.wfEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	s.workflows[id] = data
	return nil
}

func (s *memoryStore) AppendStep(ctx context.Context, step *model.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[step.WorkflowId]; !ok {
		return api.NotFoundError{Entity: "workflow", Id: step.WorkflowId}
	}
	steps, ok := s.steps[step.WorkflowId]
	if !ok {
		steps = make(map[string][]byte)
		s.steps[step.WorkflowId] = steps
	}
	step.Order = len(steps)
	data, err := s.stepEncDec.Encode(*step)
	if err != nil {
		return err
	}
	steps[step.Id] = data
	return nil
}

func (s *memoryStore) SaveStep(ctx context.Context, step *model.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.steps[step.WorkflowId]
	if !ok {
		return api.NotFoundError{Entity: "step", Id: step.Id}
	}
	if _, ok := steps[step.Id]; !ok {
		return api.NotFoundError{Entity: "step", Id: step.Id}
	}
	data, err := s.stepEncDec.Encode(*step)
	if err != nil {
		return err
	}
	steps[step.Id] = data
	return nil
}

func (s *memoryStore) GetStep(ctx context.Context, workflowId string, stepId string) (*model.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.steps[workflowId][stepId]
	if !ok {
		return nil, api.NotFoundError{Entity: "step", Id: stepId}
	}
	return s.stepEncDec.Decode(data)
}

func (s *memoryStore) ListSteps(ctx context.Context, workflowId string) ([]*model.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowStep, 0, len(s.steps[workflowId]))
	for _, data := range s.steps[workflowId] {
		step, err := s.stepEncDec.Decode(data)
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

func (s *memoryStore) CreateRun(ctx context.Context, run *model.Run, steps []*model.RunStep) error {
	runData, err := s.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(steps))
	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		data, err := s.runStepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		encoded[step.Id] = data
		ids = append(ids, step.Id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Id] = runData
	for id, data := range encoded {
		s.runSteps[id] = data
	}
	s.stepsOf[run.Id] = ids
	return nil
}

func (s *memoryStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.runs[id]
	if !ok {
		return nil, api.NotFoundError{Entity: "run", Id: id}
	}
	return s.runEncDec.Decode(data)
}

func (s *memoryStore) ListRuns(ctx context.Context, workflowId string) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Run, 0)
	for _, data := range s.runs {
		run, err := s.runEncDec.Decode(data)
		if err != nil {
			return nil, err
		}
		if run.WorkflowId == workflowId {
			out = append(out, run)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *memoryStore) SaveRunState(ctx context.Context, run *model.Run, steps ...*model.RunStep) error {
	runData, err := s.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(steps))
	for _, step := range steps {
		data, err := s.runStepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		encoded[step.Id] = data
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.Id]; !ok {
		return api.NotFoundError{Entity: "run", Id: run.Id}
	}
	for id := range encoded {
		if _, ok := s.runSteps[id]; !ok {
			return api.NotFoundError{Entity: "run step", Id: id}
		}
	}
	s.runs[run.Id] = runData
	for id, data := range encoded {
		s.runSteps[id] = data
	}
	return nil
}

func (s *memoryStore) GetRunStep(ctx context.Context, id string) (*model.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.runSteps[id]
	if !ok {
		return nil, api.NotFoundError{Entity: "run step", Id: id}
	}
	return s.runStepEncDec.Decode(data)
}

func (s *memoryStore) ListRunSteps(ctx context.Context, runId string) ([]*model.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.stepsOf[runId]
	out := make([]*model.RunStep, 0, len(ids))
	for _, id := range ids {
		step, err := s.runStepEncDec.Decode(s.runSteps[id])
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

func (s *memoryStore) ListRunStepsByStatus(ctx context.Context, status model.RunStepStatus) ([]*model.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RunStep, 0)
	for _, data := range s.runSteps {
		step, err := s.runStepEncDec.Decode(data)
		if err != nil {
			return nil, err
		}
		if step.Status == status {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunId != out[j].RunId {
			return out[i].RunId < out[j].RunId
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}
