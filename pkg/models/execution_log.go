package models

import "time"

// LogStatus represents the outcome of one action attempt.
type LogStatus string

const (
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
	LogStatusSkipped   LogStatus = "skipped"
)

// ExecutionStatus is the derived overall status of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionLog is one immutable row per action attempt. All rows of a single
// workflow run share an ExecutionID.
type ExecutionLog struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	ExecutionID  string         `json:"execution_id"`
	EventID      string         `json:"event_id,omitempty"`
	ActionID     string         `json:"action_id,omitempty"`
	ActionType   string         `json:"action_type"`
	Status       LogStatus      `json:"status"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
}

// DeriveExecutionStatus computes the overall status of an execution from its
// log rows: failed if any row failed, completed if all rows are completed or
// skipped, running otherwise.
func DeriveExecutionStatus(logs []*ExecutionLog) ExecutionStatus {
	if len(logs) == 0 {
		return ExecutionStatusRunning
	}

	for _, l := range logs {
		if l.Status == LogStatusFailed {
			return ExecutionStatusFailed
		}
	}

	for _, l := range logs {
		if l.Status != LogStatusCompleted && l.Status != LogStatusSkipped {
			return ExecutionStatusRunning
		}
	}

	return ExecutionStatusCompleted
}
