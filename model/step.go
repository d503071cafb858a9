package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type StepType string

const STEP_AGENT StepType = "agent"
const STEP_APPROVAL StepType = "approval"
const STEP_DELAY StepType = "delay"

type RejectAction string

const REJECT_FAIL RejectAction = "fail"
const REJECT_CONTINUE RejectAction = "continue"

type AgentConfig struct {
	Prompt  string `json:"prompt"`
	AgentId string `json:"agentId,omitempty"`
}

type ApprovalConfig struct {
	ApproverRole string       `json:"approverRole"`
	OnReject     RejectAction `json:"onReject,omitempty"`
}

type DelayConfig struct {
	Minutes int `json:"minutes"`
}

// StepConfig is a tagged union: exactly one variant is set and it must match
// the step type.
type StepConfig struct {
	Agent    *AgentConfig
	Approval *ApprovalConfig
	Delay    *DelayConfig
}

func (c StepConfig) Validate(stepType StepType) error {
	set := 0
	for _, v := range []bool{c.Agent != nil, c.Approval != nil, c.Delay != nil} {
		if v {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("step config must have exactly one variant, got %d", set)
	}
	switch stepType {
	case STEP_AGENT:
		if c.Agent == nil {
			return fmt.Errorf("agent step requires agent config")
		}
		if len(c.Agent.Prompt) == 0 {
			return fmt.Errorf("agent step requires a prompt")
		}
	case STEP_APPROVAL:
		if c.Approval == nil {
			return fmt.Errorf("approval step requires approval config")
		}
		if len(c.Approval.ApproverRole) == 0 {
			return fmt.Errorf("approval step requires an approver role")
		}
		switch c.Approval.OnReject {
		case "", REJECT_FAIL, REJECT_CONTINUE:
		default:
			return fmt.Errorf("unknown onReject action %q", c.Approval.OnReject)
		}
	case STEP_DELAY:
		if c.Delay == nil {
			return fmt.Errorf("delay step requires delay config")
		}
		if c.Delay.Minutes <= 0 {
			return fmt.Errorf("delay minutes must be positive, got %d", c.Delay.Minutes)
		}
	default:
		return fmt.Errorf("unknown step type %q", stepType)
	}
	return nil
}

func encodeConfig(stepType StepType, c StepConfig) (json.RawMessage, error) {
	var v any
	switch stepType {
	case STEP_AGENT:
		v = c.Agent
	case STEP_APPROVAL:
		v = c.Approval
	case STEP_DELAY:
		v = c.Delay
	default:
		return nil, fmt.Errorf("unknown step type %q", stepType)
	}
	return json.Marshal(v)
}

func decodeConfig(stepType StepType, raw json.RawMessage) (StepConfig, error) {
	var c StepConfig
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return c, fmt.Errorf("step config is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var err error
	switch stepType {
	case STEP_AGENT:
		c.Agent = &AgentConfig{}
		err = dec.Decode(c.Agent)
	case STEP_APPROVAL:
		c.Approval = &ApprovalConfig{}
		err = dec.Decode(c.Approval)
	case STEP_DELAY:
		c.Delay = &DelayConfig{}
		err = dec.Decode(c.Delay)
	default:
		return c, fmt.Errorf("unknown step type %q", stepType)
	}
	if err != nil {
		return c, fmt.Errorf("invalid %s config: %w", stepType, err)
	}
	return c, nil
}

type WorkflowStep struct {
	Id         string     `json:"id"`
	WorkflowId string     `json:"workflowId"`
	Order      int        `json:"order"`
	Type       StepType   `json:"type"`
	Title      string     `json:"title"`
	Config     StepConfig `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type workflowStepJSON struct {
	Id         string          `json:"id,omitempty"`
	WorkflowId string          `json:"workflowId,omitempty"`
	Order      int             `json:"order"`
	Type       StepType        `json:"type"`
	Title      string          `json:"title"`
	Config     json.RawMessage `json:"config"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (s WorkflowStep) MarshalJSON() ([]byte, error) {
	cfg, err := encodeConfig(s.Type, s.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(workflowStepJSON{
		Id:         s.Id,
		WorkflowId: s.WorkflowId,
		Order:      s.Order,
		Type:       s.Type,
		Title:      s.Title,
		Config:     cfg,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	})
}

func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	var raw workflowStepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg, err := decodeConfig(raw.Type, raw.Config)
	if err != nil {
		return err
	}
	*s = WorkflowStep{
		Id:         raw.Id,
		WorkflowId: raw.WorkflowId,
		Order:      raw.Order,
		Type:       raw.Type,
		Title:      raw.Title,
		Config:     cfg,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}

func (s *WorkflowStep) Validate() error {
	if len(s.Title) == 0 {
		return fmt.Errorf("step title is required")
	}
	return s.Config.Validate(s.Type)
}

// StepPatch carries the mutable fields of a catalog step. The type of a step
// never changes, so a config patch must match it.
type StepPatch struct {
	Title  *string         `json:"title,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (p StepPatch) Apply(step *WorkflowStep) error {
	if p.Title != nil {
		step.Title = *p.Title
	}
	if len(p.Config) != 0 {
		cfg, err := decodeConfig(step.Type, p.Config)
		if err != nil {
			return err
		}
		step.Config = cfg
	}
	return step.Validate()
}
