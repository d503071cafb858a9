package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohitkumar/stepflow/access"
	"github.com/mohitkumar/stepflow/catalog"
	"github.com/mohitkumar/stepflow/cluster"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	server *Server
	engine *engine.Engine
	queue  interface {
		Poll(ctx context.Context, partition int, batchSize int) ([]model.Task, error)
	}
	ring *cluster.Ring
}

func newTestServer(t *testing.T) *testServer {
	dir := access.NewMemoryDirectory()
	dir.AddMember("biz", "alice", access.ROLE_OWNER)
	dir.AddMember("biz", "bob", "manager")
	dir.AddMember("biz", "carol", "analyst")
	store := memory.NewMemoryStore()
	queue := memory.NewMemoryQueue(nil)
	ring := cluster.NewRing(cluster.RingConfig{PartitionCount: 2, NodeName: "test"})
	eng := engine.NewEngine(store, queue, ring, dir, nil, engine.Config{DelayMode: engine.DELAY_SKIP})
	s, err := NewServer(0, catalog.NewService(store, dir), eng, store)
	require.NoError(t, err)
	return &testServer{t: t, server: s, engine: eng, queue: queue, ring: ring}
}

func (ts *testServer) do(method string, path string, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(USER_HEADER, user)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) drain() {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		progressed := false
		for _, p := range ts.ring.GetPartitions() {
			tasks, err := ts.queue.Poll(ctx, p, 10)
			require.NoError(ts.t, err)
			for _, task := range tasks {
				require.NoError(ts.t, ts.engine.HandleTask(ctx, task))
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
	ts.t.Fatal("queue did not drain")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) createWorkflow(trigger model.Trigger) *model.WorkflowWithSteps {
	rec := ts.do(http.MethodPost, "/workflows", "alice", map[string]any{
		"businessId": "biz",
		"name":       "weekly digest",
		"trigger":    trigger,
		"steps": []map[string]any{
			{"type": "agent", "title": "draft", "config": map[string]any{"prompt": "draft for {$.params.customer}"}},
			{"type": "approval", "title": "review", "config": map[string]any{"approverRole": "manager"}},
			{"type": "agent", "title": "publish", "config": map[string]any{"prompt": "publish"}},
		},
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*model.WorkflowWithSteps](ts.t, rec)
}

func TestWorkflowCatalogRoutes(t *testing.T) {
	ts := newTestServer(t)
	wf := ts.createWorkflow(model.Trigger{Type: model.TRIGGER_MANUAL})
	require.Len(t, wf.Steps, 3)

	rec := ts.do(http.MethodGet, "/workflows/"+wf.Id, "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/workflows/"+wf.Id, "mallory", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/workflows/missing", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/businesses/biz/workflows", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]*model.Workflow](t, rec), 1)

	rec = ts.do(http.MethodPatch, "/workflows/"+wf.Id, "alice", map[string]any{"name": "daily digest"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "daily digest", decode[*model.Workflow](t, rec).Name)

	rec = ts.do(http.MethodPost, "/workflows/"+wf.Id+"/steps", "alice", map[string]any{
		"type": "delay", "title": "cool off", "config": map[string]any{"minutes": 5},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	step := decode[*model.WorkflowStep](t, rec)
	require.Equal(t, 3, step.Order)

	rec = ts.do(http.MethodPatch, "/workflows/"+wf.Id+"/steps/"+step.Id, "alice", map[string]any{"title": "cool down"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "cool down", decode[*model.WorkflowStep](t, rec).Title)

	rec = ts.do(http.MethodPost, "/workflows", "alice", map[string]any{"businessId": "biz"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunApprovalRoutes(t *testing.T) {
	ts := newTestServer(t)
	wf := ts.createWorkflow(model.Trigger{Type: model.TRIGGER_MANUAL})

	rec := ts.do(http.MethodPost, "/workflows/"+wf.Id+"/runs", "alice", map[string]any{
		"params": map[string]any{"customer": "acme"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	runId := decode[map[string]string](t, rec)["runId"]
	require.NotEmpty(t, runId)
	ts.drain()

	rec = ts.do(http.MethodGet, "/runs/"+runId, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[*model.RunWithSteps](t, rec)
	require.Equal(t, model.RUN_AWAITING_APPROVAL, run.Status)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, run.Steps[1].Status)

	rec = ts.do(http.MethodGet, "/businesses/biz/approvals", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]*model.PendingApproval](t, rec)
	require.Len(t, pending, 1)
	require.Equal(t, run.Steps[1].Id, pending[0].RunStep.Id)

	rec = ts.do(http.MethodPost, "/run-steps/"+run.Steps[1].Id+"/resolve", "carol", map[string]any{"approved": true})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/run-steps/"+run.Steps[1].Id+"/resolve", "bob", map[string]any{"approved": true, "note": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ts.drain()

	rec = ts.do(http.MethodPost, "/run-steps/"+run.Steps[1].Id+"/resolve", "bob", map[string]any{"approved": true})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/runs/"+runId, "alice", nil)
	run = decode[*model.RunWithSteps](t, rec)
	require.Equal(t, model.RUN_COMPLETED, run.Status)

	rec = ts.do(http.MethodGet, "/workflows/"+wf.Id+"/runs", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]*model.Run](t, rec), 1)

	rec = ts.do(http.MethodPost, "/runs/"+runId+"/cancel", "alice", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRoute(t *testing.T) {
	ts := newTestServer(t)
	wf := ts.createWorkflow(model.Trigger{Type: model.TRIGGER_MANUAL})
	rec := ts.do(http.MethodPost, "/workflows/"+wf.Id+"/runs", "alice", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	runId := decode[map[string]string](t, rec)["runId"]

	rec = ts.do(http.MethodPost, "/runs/"+runId+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ts.drain()

	rec = ts.do(http.MethodGet, "/runs/"+runId, "alice", nil)
	require.Equal(t, model.RUN_CANCELLED, decode[*model.RunWithSteps](t, rec).Status)
}

func TestTriggerRoute(t *testing.T) {
	ts := newTestServer(t)
	wf := ts.createWorkflow(model.Trigger{Type: model.TRIGGER_MANUAL})

	rec := ts.do(http.MethodPost, "/trigger", "", map[string]any{"workflowId": wf.Id})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode[map[string]string](t, rec), "error")

	rec = ts.do(http.MethodPost, "/trigger", "", map[string]any{"workflowId": wf.Id, "startedBy": "alice", "dryRun": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	require.Equal(t, true, body["ok"])
	require.Equal(t, true, body["dryRun"])
	require.NotNil(t, body["result"])

	rec = ts.do(http.MethodGet, "/workflows/"+wf.Id+"/runs", "alice", nil)
	require.Empty(t, decode[[]*model.Run](t, rec))

	rec = ts.do(http.MethodPost, "/trigger", "", map[string]any{"workflowId": wf.Id, "startedBy": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode[map[string]any](t, rec)
	require.Equal(t, true, body["ok"])
	runId := body["runId"].(string)

	rec = ts.do(http.MethodGet, "/runs/"+runId, "alice", nil)
	require.Equal(t, model.TRIGGER_MODE_WEBHOOK, decode[*model.RunWithSteps](t, rec).TriggerMode)

	rec = ts.do(http.MethodPost, "/trigger", "", map[string]any{"workflowId": "missing", "startedBy": "alice"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHookRoute(t *testing.T) {
	ts := newTestServer(t)
	wf := ts.createWorkflow(model.Trigger{Type: model.TRIGGER_WEBHOOK, EventKey: "order.created"})

	rec := ts.do(http.MethodPost, "/hooks/order.created", "", map[string]any{"params": map[string]any{"customer": "acme"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runId := decode[map[string]any](t, rec)["runId"].(string)

	rec = ts.do(http.MethodGet, "/runs/"+runId, "alice", nil)
	run := decode[*model.RunWithSteps](t, rec)
	require.Equal(t, wf.Id, run.WorkflowId)
	require.Equal(t, "alice", run.StartedBy)

	rec = ts.do(http.MethodPost, "/hooks/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStartStop(t *testing.T) {
	ts := newTestServer(t)
	done := make(chan error, 1)
	go func() { done <- ts.server.Start() }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ts.server.Stop())
	require.NoError(t, <-done)
}
