package model

type TaskKind string

const TASK_ADVANCE TaskKind = "advance"
const TASK_DELAY_ELAPSED TaskKind = "delay_elapsed"

// Task is one unit of work for the run driver. Tasks are queued rather than
// executed inline so every advance of a run is an independent, bounded step.
type Task struct {
	Kind      TaskKind `json:"kind"`
	RunId     string   `json:"runId"`
	RunStepId string   `json:"runStepId,omitempty"`
	Attempt   int      `json:"attempt,omitempty"`
}

// Retry returns the task as it is queued again after a failed attempt.
func (t Task) Retry() Task {
	t.Attempt++
	return t
}

func AdvanceTask(runId string) Task {
	return Task{Kind: TASK_ADVANCE, RunId: runId}
}

func DelayElapsedTask(runId string, runStepId string) Task {
	return Task{Kind: TASK_DELAY_ELAPSED, RunId: runId, RunStepId: runStepId}
}
