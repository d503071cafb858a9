package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumar/stepflow/config"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/model"
	"github.com/stretchr/testify/require"
)

const seedDoc = `
businesses:
  - id: acme
    members:
      - user: alice
        role: owner
workflows:
  - createdBy: alice
    businessId: acme
    name: onboarding
    trigger:
      type: manual
    steps:
      - type: agent
        title: welcome
        config:
          prompt: "welcome {$.params.customer}"
      - type: delay
        title: wait
        config:
          minutes: 10
`

func testConfig(t *testing.T) config.Config {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedDoc), 0o600))
	return config.Config{
		HttpPort:        0,
		GrpcPort:        0,
		StorageType:     config.STORAGE_TYPE_INMEM,
		QueueType:       config.QUEUE_TYPE_INMEM,
		ClusterConfig:   config.ClusterConfig{NodeName: "node-1", PartitionCount: 4},
		BatchSize:       8,
		PollInterval:    10 * time.Millisecond,
		DelayMode:       engine.DELAY_SKIP,
		SLAConfig:       config.SLAConfig{Threshold: time.Hour, ScanInterval: time.Minute},
		SchedulerConfig: config.SchedulerConfig{Enabled: true, Resync: time.Minute},
		SeedFile:        path,
	}
}

func TestAppRunsSeededWorkflow(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	require.Equal(t, 5, a.executors.Len())
	require.NoError(t, a.Start())

	ctx := context.Background()
	wfs, err := a.catalog.ListWorkflows(ctx, "alice", "acme")
	require.NoError(t, err)
	require.Len(t, wfs, 1)

	runId, err := a.engine.StartRun(ctx, model.WorkflowRunRequest{
		WorkflowId: wfs[0].Id,
		StartedBy:  "alice",
		Params:     map[string]any{"customer": "globex"},
	}, model.TRIGGER_MODE_MANUAL)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, err := a.engine.GetRun(ctx, "alice", runId)
		return err == nil && run.Status == model.RUN_COMPLETED
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := testConfig(t)
	conf.StorageType = "dynamo"
	_, err := New(conf)
	require.ErrorContains(t, err, "unknown storage implementation")
}
