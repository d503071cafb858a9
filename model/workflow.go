package model

import (
	"fmt"
	"time"
)

type TriggerType string

const TRIGGER_MANUAL TriggerType = "manual"
const TRIGGER_SCHEDULED TriggerType = "scheduled"
const TRIGGER_WEBHOOK TriggerType = "webhook"

type Trigger struct {
	Type     TriggerType `json:"type"`
	Schedule string      `json:"schedule,omitempty"`
	EventKey string      `json:"eventKey,omitempty"`
}

// Validate checks that the auxiliary fields are set if and only if the
// trigger type needs them. Cron syntax is checked by the catalog.
func (t Trigger) Validate() error {
	switch t.Type {
	case TRIGGER_MANUAL:
		if len(t.Schedule) != 0 || len(t.EventKey) != 0 {
			return fmt.Errorf("manual trigger can not have schedule or event key")
		}
	case TRIGGER_SCHEDULED:
		if len(t.Schedule) == 0 {
			return fmt.Errorf("scheduled trigger requires a schedule")
		}
		if len(t.EventKey) != 0 {
			return fmt.Errorf("scheduled trigger can not have event key")
		}
	case TRIGGER_WEBHOOK:
		if len(t.EventKey) == 0 {
			return fmt.Errorf("webhook trigger requires an event key")
		}
		if len(t.Schedule) != 0 {
			return fmt.Errorf("webhook trigger can not have schedule")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

type ApprovalPolicyType string

const APPROVAL_NONE ApprovalPolicyType = "none"
const APPROVAL_SINGLE ApprovalPolicyType = "single"
const APPROVAL_TIERED ApprovalPolicyType = "tiered"

type ApprovalPolicy struct {
	Type          ApprovalPolicyType `json:"type"`
	ApproverRoles []string           `json:"approverRoles,omitempty"`
}

func (p ApprovalPolicy) Validate() error {
	switch p.Type {
	case APPROVAL_NONE, "":
		if len(p.ApproverRoles) != 0 {
			return fmt.Errorf("approval policy none can not list approver roles")
		}
	case APPROVAL_SINGLE:
		if len(p.ApproverRoles) != 1 {
			return fmt.Errorf("approval policy single requires exactly one approver role")
		}
	case APPROVAL_TIERED:
		if len(p.ApproverRoles) < 2 {
			return fmt.Errorf("approval policy tiered requires at least two approver roles")
		}
	default:
		return fmt.Errorf("unknown approval policy %q", p.Type)
	}
	return nil
}

// Allows reports whether an approval gate may name approverRole. A none
// policy places no limit on gates.
func (p ApprovalPolicy) Allows(approverRole string) bool {
	if p.Type == APPROVAL_NONE || p.Type == "" {
		return true
	}
	for _, role := range p.ApproverRoles {
		if role == approverRole {
			return true
		}
	}
	return false
}

type WorkflowMetrics struct {
	TotalRuns      int        `json:"totalRuns"`
	FinishedRuns   int        `json:"finishedRuns"`
	SucceededRuns  int        `json:"succeededRuns"`
	SuccessRate    float64    `json:"successRate"`
	AvgExecutionMs int64      `json:"avgExecutionMs"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
}

// RecordStart counts a newly created run.
func (m *WorkflowMetrics) RecordStart(at time.Time) {
	m.TotalRuns++
	m.LastRunAt = &at
}

// RecordFinish folds a finished run into the running averages.
func (m *WorkflowMetrics) RecordFinish(status RunStatus, elapsed time.Duration) {
	total := m.AvgExecutionMs * int64(m.FinishedRuns)
	m.FinishedRuns++
	if status == RUN_COMPLETED {
		m.SucceededRuns++
	}
	m.AvgExecutionMs = (total + elapsed.Milliseconds()) / int64(m.FinishedRuns)
	m.SuccessRate = float64(m.SucceededRuns) / float64(m.FinishedRuns)
}

type Workflow struct {
	Id             string          `json:"id"`
	BusinessId     string          `json:"businessId"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Trigger        Trigger         `json:"trigger"`
	ApprovalPolicy ApprovalPolicy  `json:"approvalPolicy"`
	Active         bool            `json:"active"`
	CreatedBy      string          `json:"createdBy"`
	Metrics        WorkflowMetrics `json:"metrics"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type WorkflowWithSteps struct {
	Workflow
	Steps []*WorkflowStep `json:"steps"`
}
