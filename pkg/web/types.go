// Package web provides the admin HTTP surface: events, workflows and
// automation logs.
package web

import (
	"github.com/arborops/canopy/pkg/models"
)

// ExecuteWorkflowRequest is the body for manual workflow execution.
type ExecuteWorkflowRequest struct {
	EntityType string         `json:"entity_type" validate:"required"`
	EntityID   string         `json:"entity_id"   validate:"required"`
	EntityData map[string]any `json:"entity_data"`
}

// CloneWorkflowRequest is the body for cloning a workflow or instantiating
// a template. An empty name falls back to a derived one.
type CloneWorkflowRequest struct {
	Name string `json:"name"`
}

// WorkflowRequest is the body for creating or updating a workflow.
type WorkflowRequest struct {
	Name                string            `json:"name"                   validate:"required,min=3"`
	Description         string            `json:"description"`
	IsActive            bool              `json:"is_active"`
	IsTemplate          bool              `json:"is_template"`
	MaxExecutionsPerDay int               `json:"max_executions_per_day" validate:"min=0"`
	CooldownMinutes     int               `json:"cooldown_minutes"       validate:"min=0"`
	Triggers            []*models.Trigger `json:"triggers"`
	Actions             []*models.Action  `json:"actions"`
}

// ToModel converts the request into a domain workflow.
func (r *WorkflowRequest) ToModel() *models.Workflow {
	return &models.Workflow{
		Name:                r.Name,
		Description:         r.Description,
		IsActive:            r.IsActive,
		IsTemplate:          r.IsTemplate,
		MaxExecutionsPerDay: r.MaxExecutionsPerDay,
		CooldownMinutes:     r.CooldownMinutes,
		Triggers:            r.Triggers,
		Actions:             r.Actions,
	}
}

// ExecutionResponse groups one run's log rows with its derived status.
type ExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      models.ExecutionStatus `json:"status"`
	Logs        []*models.ExecutionLog `json:"logs"`
}

// NewExecutionResponse builds the response from a run's log rows.
func NewExecutionResponse(executionID string, logs []*models.ExecutionLog) ExecutionResponse {
	resp := ExecutionResponse{
		ExecutionID: executionID,
		Status:      models.DeriveExecutionStatus(logs),
		Logs:        logs,
	}

	if len(logs) > 0 {
		resp.WorkflowID = logs[0].WorkflowID
	}

	return resp
}
