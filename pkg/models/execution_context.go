package models

// ExecutionContext carries everything an action needs about the run it is
// part of: identities for log correlation plus the triggering event payload
// used as template data.
type ExecutionContext struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	EventID     string         `json:"event_id,omitempty"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
}
