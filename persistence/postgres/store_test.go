package postgres

import (
	"context"
	"testing"
	"time"

	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStorage(t *testing.T) *postgresStorage {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("stepflow"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %s", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	store, err := NewPostgresStorage(ctx, Config{DSN: connStr})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStorage(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	wf := &model.Workflow{Id: "wf1", BusinessId: "biz", Name: "review",
		Trigger: model.Trigger{Type: model.TRIGGER_WEBHOOK, EventKey: "lead.created"}, CreatedAt: now}
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	t.Run("steps append densely", func(t *testing.T) {
		for _, id := range []string{"s0", "s1"} {
			require.NoError(t, store.AppendStep(ctx, &model.WorkflowStep{Id: id, WorkflowId: "wf1", Type: model.STEP_AGENT,
				Title: id, Config: model.StepConfig{Agent: &model.AgentConfig{Prompt: "go"}}}))
		}
		steps, err := store.ListSteps(ctx, "wf1")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		require.Equal(t, 1, steps[1].Order)

		err = store.AppendStep(ctx, &model.WorkflowStep{Id: "x", WorkflowId: "nope", Type: model.STEP_AGENT,
			Config: model.StepConfig{Agent: &model.AgentConfig{Prompt: "go"}}})
		require.True(t, api.IsNotFound(err))
	})

	t.Run("webhook index", func(t *testing.T) {
		wfs, err := store.ListWorkflowsByTrigger(ctx, model.TRIGGER_WEBHOOK)
		require.NoError(t, err)
		require.Len(t, wfs, 1)
		require.Equal(t, "lead.created", wfs[0].Trigger.EventKey)
	})

	t.Run("save keeps metrics", func(t *testing.T) {
		require.NoError(t, store.UpdateWorkflowMetrics(ctx, "wf1", func(m *model.WorkflowMetrics) {
			m.TotalRuns = 4
		}))
		stale := *wf
		stale.Name = "renamed"
		require.NoError(t, store.SaveWorkflow(ctx, &stale))
		require.Equal(t, 4, stale.Metrics.TotalRuns)
		got, err := store.GetWorkflow(ctx, "wf1")
		require.NoError(t, err)
		require.Equal(t, "renamed", got.Name)
		require.Equal(t, 4, got.Metrics.TotalRuns)
	})

	t.Run("create workflow", func(t *testing.T) {
		created := &model.Workflow{Id: "wf2", BusinessId: "biz", Name: "intake",
			Trigger: model.Trigger{Type: model.TRIGGER_MANUAL}, CreatedAt: now}
		steps := []*model.WorkflowStep{
			{Id: "c0", WorkflowId: "wf2", Type: model.STEP_AGENT, Title: "c0", Config: model.StepConfig{Agent: &model.AgentConfig{Prompt: "go"}}},
			{Id: "c1", WorkflowId: "wf2", Type: model.STEP_AGENT, Title: "c1", Config: model.StepConfig{Agent: &model.AgentConfig{Prompt: "go"}}},
		}
		require.NoError(t, store.CreateWorkflow(ctx, created, steps))
		got, err := store.ListSteps(ctx, "wf2")
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "c1", got[1].Id)

		err = store.CreateWorkflow(ctx, &model.Workflow{Id: "wf2", BusinessId: "biz", CreatedAt: now}, nil)
		require.True(t, api.IsConflict(err))
	})

	t.Run("run state", func(t *testing.T) {
		run := &model.Run{Id: "r1", WorkflowId: "wf1", Status: model.RUN_RUNNING, StartedAt: now}
		steps := []*model.RunStep{
			{Id: "r1-0", RunId: "r1", Order: 0, Type: model.STEP_AGENT, Title: "s0", Status: model.STEP_PENDING,
				Config: model.StepConfig{Agent: &model.AgentConfig{Prompt: "go"}}},
		}
		require.NoError(t, store.CreateRun(ctx, run, steps))

		run.Status = model.RUN_COMPLETED
		steps[0].Status = model.STEP_COMPLETED
		require.NoError(t, store.SaveRunState(ctx, run, steps[0]))

		done, err := store.ListRunStepsByStatus(ctx, model.STEP_COMPLETED)
		require.NoError(t, err)
		require.Len(t, done, 1)

		got, err := store.GetRun(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, model.RUN_COMPLETED, got.Status)

		err = store.SaveRunState(ctx, &model.Run{Id: "ghost"})
		require.True(t, api.IsNotFound(err))
	})

	t.Run("metrics", func(t *testing.T) {
		require.NoError(t, store.UpdateWorkflowMetrics(ctx, "wf1", func(m *model.WorkflowMetrics) {
			m.RecordFinish(model.RUN_COMPLETED, 250*time.Millisecond)
		}))
		got, err := store.GetWorkflow(ctx, "wf1")
		require.NoError(t, err)
		require.Equal(t, int64(250), got.Metrics.AvgExecutionMs)
	})
}
