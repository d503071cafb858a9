package engine

import (
	"context"
	"fmt"
	"time"
)

const DEFAULT_AGENT = "default-agent"

type AgentRequest struct {
	RunId     string
	RunStepId string
	AgentId   string
	Title     string
	Prompt    string
	DryRun    bool
}

// AgentInvoker executes an agent step and returns its output payload.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (map[string]any, error)
}

type syntheticInvoker struct {
	now func() time.Time
}

// NewSyntheticInvoker returns an invoker that makes no external call and
// synthesizes a result from the agent and step title.
func NewSyntheticInvoker(now func() time.Time) AgentInvoker {
	return &syntheticInvoker{now: now}
}

func (s *syntheticInvoker) Invoke(ctx context.Context, req AgentRequest) (map[string]any, error) {
	start := s.now()
	agent := req.AgentId
	if agent == "" {
		agent = DEFAULT_AGENT
	}
	done := s.now()
	return map[string]any{
		"agentId":     agent,
		"result":      fmt.Sprintf("Agent %s completed %q", agent, req.Title),
		"prompt":      req.Prompt,
		"confidence":  0.92,
		"durationMs":  done.Sub(start).Milliseconds(),
		"completedAt": done.Format(time.RFC3339),
	}, nil
}
