package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStepDecodeRejectsUnknownShape(t *testing.T) {
	var step WorkflowStep
	err := json.Unmarshal([]byte(`{"type":"delay","title":"wait","config":{"minutes":5,"seconds":3}}`), &step)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"type":"poll","title":"x","config":{}}`), &step)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"type":"agent","title":"draft"}`), &step)
	require.Error(t, err)
}

func TestStepDecodeVariant(t *testing.T) {
	var step WorkflowStep
	err := json.Unmarshal([]byte(`{"type":"approval","title":"sign off","config":{"approverRole":"manager","onReject":"continue"}}`), &step)
	require.NoError(t, err)
	require.NoError(t, step.Validate())
	require.Nil(t, step.Config.Agent)
	require.Equal(t, "manager", step.Config.Approval.ApproverRole)
	require.Equal(t, REJECT_CONTINUE, step.Config.Approval.OnReject)

	data, err := json.Marshal(step)
	require.NoError(t, err)
	require.JSONEq(t, `{"approverRole":"manager","onReject":"continue"}`, string(mustField(t, data, "config")))
}

func TestStepValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		step WorkflowStep
		ok   bool
	}{
		"agent ok":         {WorkflowStep{Type: STEP_AGENT, Title: "a", Config: StepConfig{Agent: &AgentConfig{Prompt: "p"}}}, true},
		"agent no prompt":  {WorkflowStep{Type: STEP_AGENT, Title: "a", Config: StepConfig{Agent: &AgentConfig{}}}, false},
		"delay zero":       {WorkflowStep{Type: STEP_DELAY, Title: "d", Config: StepConfig{Delay: &DelayConfig{}}}, false},
		"mismatch":         {WorkflowStep{Type: STEP_DELAY, Title: "d", Config: StepConfig{Agent: &AgentConfig{Prompt: "p"}}}, false},
		"two variants":     {WorkflowStep{Type: STEP_DELAY, Title: "d", Config: StepConfig{Delay: &DelayConfig{Minutes: 1}, Agent: &AgentConfig{Prompt: "p"}}}, false},
		"no title":         {WorkflowStep{Type: STEP_DELAY, Config: StepConfig{Delay: &DelayConfig{Minutes: 1}}}, false},
		"bad reject":       {WorkflowStep{Type: STEP_APPROVAL, Title: "x", Config: StepConfig{Approval: &ApprovalConfig{ApproverRole: "m", OnReject: "retry"}}}, false},
		"approval default": {WorkflowStep{Type: STEP_APPROVAL, Title: "x", Config: StepConfig{Approval: &ApprovalConfig{ApproverRole: "m"}}}, true},
	} {
		t.Run(name, func(t *testing.T) {
			err := tc.step.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestStepPatchKeepsType(t *testing.T) {
	step := &WorkflowStep{Type: STEP_DELAY, Title: "wait", Config: StepConfig{Delay: &DelayConfig{Minutes: 5}}}
	title := "cool down"
	err := StepPatch{Title: &title, Config: json.RawMessage(`{"minutes":10}`)}.Apply(step)
	require.NoError(t, err)
	require.Equal(t, "cool down", step.Title)
	require.Equal(t, 10, step.Config.Delay.Minutes)

	err = StepPatch{Config: json.RawMessage(`{"prompt":"x"}`)}.Apply(step)
	require.Error(t, err)
}

func TestTriggerValidate(t *testing.T) {
	require.NoError(t, Trigger{Type: TRIGGER_MANUAL}.Validate())
	require.Error(t, Trigger{Type: TRIGGER_MANUAL, EventKey: "x"}.Validate())
	require.NoError(t, Trigger{Type: TRIGGER_SCHEDULED, Schedule: "0 * * * *"}.Validate())
	require.Error(t, Trigger{Type: TRIGGER_SCHEDULED}.Validate())
	require.NoError(t, Trigger{Type: TRIGGER_WEBHOOK, EventKey: "invoice.created"}.Validate())
	require.Error(t, Trigger{Type: TRIGGER_WEBHOOK, EventKey: "k", Schedule: "* * * * *"}.Validate())
	require.Error(t, Trigger{Type: "email"}.Validate())
}

func TestSummarize(t *testing.T) {
	steps := []*RunStep{
		{Id: "a", Order: 0, Status: STEP_COMPLETED, Output: map[string]any{"result": "ok"}},
		{Id: "b", Order: 1, Status: STEP_FAILED},
		{Id: "c", Order: 2, Status: STEP_PENDING},
	}
	summary := Summarize(steps)
	require.Equal(t, 3, summary.TotalSteps)
	require.Equal(t, 1, summary.CompletedSteps)
	require.Equal(t, 1, summary.FailedSteps)
	require.Len(t, summary.Outputs, 2)
	require.Equal(t, "a", summary.Outputs[0].RunStepId)
}

func TestMetricsRecordFinish(t *testing.T) {
	var m WorkflowMetrics
	m.RecordFinish(RUN_COMPLETED, 100_000_000)
	m.RecordFinish(RUN_FAILED, 300_000_000)
	require.Equal(t, 2, m.FinishedRuns)
	require.Equal(t, int64(200), m.AvgExecutionMs)
	require.InDelta(t, 0.5, m.SuccessRate, 0.0001)
}

func mustField(t *testing.T, data []byte, field string) json.RawMessage {
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return m[field]
}

func TestApprovalPolicyAllows(t *testing.T) {
	require.True(t, ApprovalPolicy{Type: APPROVAL_NONE}.Allows("anyone"))
	require.True(t, ApprovalPolicy{}.Allows("anyone"))
	single := ApprovalPolicy{Type: APPROVAL_SINGLE, ApproverRoles: []string{"manager"}}
	require.True(t, single.Allows("manager"))
	require.False(t, single.Allows("analyst"))
	tiered := ApprovalPolicy{Type: APPROVAL_TIERED, ApproverRoles: []string{"manager", "director"}}
	require.True(t, tiered.Allows("director"))
	require.False(t, tiered.Allows("owner"))
}
