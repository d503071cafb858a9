package model

import (
	"encoding/json"
	"time"
)

type RunStatus string

const RUN_RUNNING RunStatus = "running"
const RUN_AWAITING_APPROVAL RunStatus = "awaiting_approval"
const RUN_COMPLETED RunStatus = "completed"
const RUN_FAILED RunStatus = "failed"
const RUN_CANCELLED RunStatus = "cancelled"

func (s RunStatus) IsTerminal() bool {
	return s == RUN_COMPLETED || s == RUN_FAILED || s == RUN_CANCELLED
}

type RunStepStatus string

const STEP_PENDING RunStepStatus = "pending"
const STEP_RUNNING RunStepStatus = "running"
const STEP_COMPLETED RunStepStatus = "completed"
const STEP_FAILED RunStepStatus = "failed"
const STEP_AWAITING_APPROVAL RunStepStatus = "awaiting_approval"

func (s RunStepStatus) IsTerminal() bool {
	return s == STEP_COMPLETED || s == STEP_FAILED
}

type TriggerMode string

const TRIGGER_MODE_MANUAL TriggerMode = "manual"
const TRIGGER_MODE_SCHEDULE TriggerMode = "schedule"
const TRIGGER_MODE_WEBHOOK TriggerMode = "webhook"

type StepOutput struct {
	RunStepId string         `json:"runStepId"`
	Order     int            `json:"order"`
	Title     string         `json:"title"`
	Status    RunStepStatus  `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
}

type RunSummary struct {
	TotalSteps     int          `json:"totalSteps"`
	CompletedSteps int          `json:"completedSteps"`
	FailedSteps    int          `json:"failedSteps"`
	Outputs        []StepOutput `json:"outputs"`
}

type Run struct {
	Id          string         `json:"id"`
	WorkflowId  string         `json:"workflowId"`
	BusinessId  string         `json:"businessId"`
	Status      RunStatus      `json:"status"`
	StartedBy   string         `json:"startedBy"`
	TriggerMode TriggerMode    `json:"triggerMode"`
	DryRun      bool           `json:"dryRun"`
	Params      map[string]any `json:"params,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	Summary     RunSummary     `json:"summary"`
	Error       string         `json:"error,omitempty"`
}

// RunStep is the per-run record of one catalog step. The catalog step's type,
// title and config are copied in at run creation so later catalog edits never
// reach a run that already started.
type RunStep struct {
	Id         string         `json:"id"`
	RunId      string         `json:"runId"`
	StepId     string         `json:"stepId"`
	Order      int            `json:"order"`
	Type       StepType       `json:"type"`
	Title      string         `json:"title"`
	Config     StepConfig     `json:"-"`
	Status     RunStepStatus  `json:"status"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

type runStepJSON struct {
	Id         string          `json:"id"`
	RunId      string          `json:"runId"`
	StepId     string          `json:"stepId"`
	Order      int             `json:"order"`
	Type       StepType        `json:"type"`
	Title      string          `json:"title"`
	Config     json.RawMessage `json:"config,omitempty"`
	Status     RunStepStatus   `json:"status"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Output     map[string]any  `json:"output,omitempty"`
}

// MarshalJSON writes the config snapshot when it is encodable. A snapshot with
// an unknown type is still written so the integrity failure stays visible.
func (s RunStep) MarshalJSON() ([]byte, error) {
	cfg, err := encodeConfig(s.Type, s.Config)
	if err != nil {
		cfg = nil
	}
	return json.Marshal(runStepJSON{
		Id:         s.Id,
		RunId:      s.RunId,
		StepId:     s.StepId,
		Order:      s.Order,
		Type:       s.Type,
		Title:      s.Title,
		Config:     cfg,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Output:     s.Output,
	})
}

func (s *RunStep) UnmarshalJSON(data []byte) error {
	var raw runStepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// a snapshot that can not be decoded is kept without config; the driver
	// fails the run when it reaches the step.
	cfg, _ := decodeConfig(raw.Type, raw.Config)
	*s = RunStep{
		Id:         raw.Id,
		RunId:      raw.RunId,
		StepId:     raw.StepId,
		Order:      raw.Order,
		Type:       raw.Type,
		Title:      raw.Title,
		Config:     cfg,
		Status:     raw.Status,
		StartedAt:  raw.StartedAt,
		FinishedAt: raw.FinishedAt,
		Output:     raw.Output,
	}
	return nil
}

type RunWithSteps struct {
	Run
	Steps []*RunStep `json:"steps"`
}

// Summarize recomputes the run summary from its steps. Steps must be in
// captured order.
func Summarize(steps []*RunStep) RunSummary {
	summary := RunSummary{
		TotalSteps: len(steps),
		Outputs:    make([]StepOutput, 0, len(steps)),
	}
	for _, step := range steps {
		switch step.Status {
		case STEP_COMPLETED:
			summary.CompletedSteps++
		case STEP_FAILED:
			summary.FailedSteps++
		default:
			continue
		}
		summary.Outputs = append(summary.Outputs, StepOutput{
			RunStepId: step.Id,
			Order:     step.Order,
			Title:     step.Title,
			Status:    step.Status,
			Output:    step.Output,
		})
	}
	return summary
}

type WorkflowRunRequest struct {
	WorkflowId string         `json:"workflowId"`
	StartedBy  string         `json:"startedBy"`
	Params     map[string]any `json:"params,omitempty"`
	DryRun     bool           `json:"dryRun,omitempty"`
}

type ApprovalDecision struct {
	Approved   bool   `json:"approved"`
	Note       string `json:"note,omitempty"`
	ResolvedBy string `json:"resolvedBy"`
}

type PendingApproval struct {
	Run     *Run     `json:"run"`
	RunStep *RunStep `json:"runStep"`
}

// SimulatedStep is one entry of a dry-run preview produced without persisting
// anything.
type SimulatedStep struct {
	Order   int            `json:"order"`
	Type    StepType       `json:"type"`
	Title   string         `json:"title"`
	Outcome string         `json:"outcome"`
	Detail  map[string]any `json:"detail,omitempty"`
}

type Simulation struct {
	WorkflowId string          `json:"workflowId"`
	Valid      bool            `json:"valid"`
	Steps      []SimulatedStep `json:"steps"`
	Problems   []string        `json:"problems,omitempty"`
}
