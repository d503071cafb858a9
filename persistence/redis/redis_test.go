package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	srv := miniredis.RunT(t)
	return Config{
		Addrs:     []string{srv.Addr()},
		Namespace: "test",
	}
}

func TestRedisStorage(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, store *redisStorage,
	){
		"workflow and steps":  testWorkflowAndSteps,
		"runs and run steps":  testRunsAndRunSteps,
		"metrics update":      testMetricsUpdate,
		"missing run on save": testSaveMissingRun,
		"create workflow":     testCreateWorkflow,
	} {
		t.Run(scenario, func(t *testing.T) {
			store := NewRedisStorage(testConfig(t))
			defer store.Close()
			fn(t, store)
		})
	}
}

func testWorkflowAndSteps(t *testing.T, store *redisStorage) {
	ctx := context.Background()
	wf := &model.Workflow{Id: "wf1", BusinessId: "biz", Name: "onboarding",
		Trigger: model.Trigger{Type: model.TRIGGER_SCHEDULED, Schedule: "*/5 * * * *"}}
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	for _, id := range []string{"a", "b", "c"} {
		step := &model.WorkflowStep{Id: id, WorkflowId: "wf1", Type: model.STEP_DELAY, Title: id,
			Config: model.StepConfig{Delay: &model.DelayConfig{Minutes: 5}}}
		require.NoError(t, store.AppendStep(ctx, step))
	}
	steps, err := store.ListSteps(ctx, "wf1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.Equal(t, 2, steps[2].Order)
	require.Equal(t, "c", steps[2].Id)
	require.Equal(t, 5, steps[2].Config.Delay.Minutes)

	steps[1].Title = "renamed"
	require.NoError(t, store.SaveStep(ctx, steps[1]))
	got, err := store.GetStep(ctx, "wf1", "b")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)

	scheduled, err := store.ListWorkflowsByTrigger(ctx, model.TRIGGER_SCHEDULED)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	wf.Trigger = model.Trigger{Type: model.TRIGGER_MANUAL}
	require.NoError(t, store.SaveWorkflow(ctx, wf))
	scheduled, err = store.ListWorkflowsByTrigger(ctx, model.TRIGGER_SCHEDULED)
	require.NoError(t, err)
	require.Empty(t, scheduled)

	list, err := store.ListWorkflows(ctx, "biz")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = store.GetWorkflow(ctx, "nope")
	require.True(t, api.IsNotFound(err))
	err = store.AppendStep(ctx, &model.WorkflowStep{Id: "x", WorkflowId: "nope", Type: model.STEP_DELAY,
		Config: model.StepConfig{Delay: &model.DelayConfig{Minutes: 1}}})
	require.True(t, api.IsNotFound(err))
}

func testRunsAndRunSteps(t *testing.T, store *redisStorage) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2"} {
		run := &model.Run{Id: id, WorkflowId: "wf1", Status: model.RUN_RUNNING, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		steps := []*model.RunStep{
			{Id: id + "-0", RunId: id, Order: 0, Type: model.STEP_APPROVAL, Title: "gate", Status: model.STEP_PENDING,
				Config: model.StepConfig{Approval: &model.ApprovalConfig{ApproverRole: "manager"}}},
			{Id: id + "-1", RunId: id, Order: 1, Type: model.STEP_AGENT, Title: "draft", Status: model.STEP_PENDING,
				Config: model.StepConfig{Agent: &model.AgentConfig{Prompt: "hi"}}},
		}
		require.NoError(t, store.CreateRun(ctx, run, steps))
	}

	runs, err := store.ListRuns(ctx, "wf1")
	require.NoError(t, err)
	require.Equal(t, "r2", runs[0].Id)
	require.Equal(t, "r1", runs[1].Id)

	steps, err := store.ListRunSteps(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"r1-0", "r1-1"}, []string{steps[0].Id, steps[1].Id})

	run := runs[1]
	run.Status = model.RUN_AWAITING_APPROVAL
	steps[0].Status = model.STEP_AWAITING_APPROVAL
	require.NoError(t, store.SaveRunState(ctx, run, steps[0]))

	awaiting, err := store.ListRunStepsByStatus(ctx, model.STEP_AWAITING_APPROVAL)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	require.Equal(t, "manager", awaiting[0].Config.Approval.ApproverRole)

	pending, err := store.ListRunStepsByStatus(ctx, model.STEP_PENDING)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, model.RUN_AWAITING_APPROVAL, got.Status)
}

func testMetricsUpdate(t *testing.T, store *redisStorage) {
	ctx := context.Background()
	require.NoError(t, store.SaveWorkflow(ctx, &model.Workflow{Id: "wf1", BusinessId: "biz", Trigger: model.Trigger{Type: model.TRIGGER_MANUAL}}))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.UpdateWorkflowMetrics(ctx, "wf1", func(m *model.WorkflowMetrics) {
			m.TotalRuns++
		}))
	}
	wf, err := store.GetWorkflow(ctx, "wf1")
	require.NoError(t, err)
	require.Equal(t, 3, wf.Metrics.TotalRuns)

	err = store.UpdateWorkflowMetrics(ctx, "nope", func(m *model.WorkflowMetrics) {})
	require.True(t, api.IsNotFound(err))
}

func testSaveMissingRun(t *testing.T, store *redisStorage) {
	err := store.SaveRunState(context.Background(), &model.Run{Id: "ghost"})
	require.True(t, api.IsNotFound(err))
}

func TestDelayQueue(t *testing.T) {
	ctx := context.Background()
	queue := NewRedisDelayQueue(testConfig(t))
	defer queue.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	queue.now = func() time.Time { return now }

	require.NoError(t, queue.Push(ctx, 3, model.AdvanceTask("r1")))
	require.NoError(t, queue.Push(ctx, 3, model.AdvanceTask("r1")))
	require.NoError(t, queue.PushWithDelay(ctx, 3, time.Minute, model.DelayElapsedTask("r1", "s1")))

	tasks, err := queue.Poll(ctx, 3, 10)
	require.NoError(t, err)
	require.Equal(t, []model.Task{model.AdvanceTask("r1")}, tasks)

	tasks, err = queue.Poll(ctx, 3, 10)
	require.NoError(t, err)
	require.Empty(t, tasks)

	now = now.Add(time.Minute)
	tasks, err = queue.Poll(ctx, 3, 10)
	require.NoError(t, err)
	require.Equal(t, []model.Task{model.DelayElapsedTask("r1", "s1")}, tasks)
}

func testCreateWorkflow(t *testing.T, store *redisStorage) {
	ctx := context.Background()
	wf := &model.Workflow{Id: "wf1", BusinessId: "biz", Name: "report", Trigger: model.Trigger{Type: model.TRIGGER_MANUAL}}
	steps := []*model.WorkflowStep{
		{Id: "a", WorkflowId: "wf1", Type: model.STEP_DELAY, Title: "a", Config: model.StepConfig{Delay: &model.DelayConfig{Minutes: 1}}},
		{Id: "b", WorkflowId: "wf1", Type: model.STEP_DELAY, Title: "b", Config: model.StepConfig{Delay: &model.DelayConfig{Minutes: 2}}},
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf, steps))
	got, err := store.ListSteps(ctx, "wf1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b", got[1].Id)
	require.Equal(t, 1, got[1].Order)

	err = store.CreateWorkflow(ctx, &model.Workflow{Id: "wf1", BusinessId: "biz"}, nil)
	require.True(t, api.IsConflict(err))
	got, err = store.ListSteps(ctx, "wf1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NoError(t, store.UpdateWorkflowMetrics(ctx, "wf1", func(m *model.WorkflowMetrics) {
		m.TotalRuns = 3
	}))
	wf.Name = "renamed"
	require.NoError(t, store.SaveWorkflow(ctx, wf))
	require.Equal(t, 3, wf.Metrics.TotalRuns)
	saved, err := store.GetWorkflow(ctx, "wf1")
	require.NoError(t, err)
	require.Equal(t, "renamed", saved.Name)
	require.Equal(t, 3, saved.Metrics.TotalRuns)
}
