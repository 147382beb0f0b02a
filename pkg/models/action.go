package models

// Action is one step of a workflow's effect, executed strictly in ascending
// Order. ActionType identifies the capability invoked at execution time.
type Action struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	ActionType      string         `json:"action_type"   validate:"required"`
	Config          map[string]any `json:"config"`
	DelayMinutes    int            `json:"delay_minutes" validate:"min=0"`
	Order           int            `json:"order"`
	ContinueOnError bool           `json:"continue_on_error"`
}
