package models

// Reserved trigger types that do not correspond to a recorded domain event.
const (
	TriggerTypeManual   = "manual"   // Invoked directly via the admin API
	TriggerTypeSchedule = "schedule" // Fired by the worker on a cron expression
)

// Trigger holds the matching criteria that qualify a workflow to run.
// Triggers are read-only during evaluation.
type Trigger struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggerType string         `json:"trigger_type" validate:"required"`
	Config      map[string]any `json:"config"`
	Conditions  []Condition    `json:"conditions"`
	Order       int            `json:"order"`
}

// Condition is a single predicate evaluated against event payload data.
// All conditions of one trigger are AND-ed.
type Condition struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}
