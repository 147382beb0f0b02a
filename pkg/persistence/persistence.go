// Package persistence provides the data storage abstraction for domain
// events, workflows and execution logs.
package persistence

import (
	"context"
	"time"

	"github.com/arborops/canopy/pkg/models"
)

// EventRepository is the durable event store. Append must be durable before
// returning; ClaimPending is the sole serialization point between concurrent
// processors and must be atomic at the storage layer.
type EventRepository interface {
	// Append records a new pending event and returns its ID.
	Append(ctx context.Context, eventType string, payload map[string]any) (string, error)

	// ClaimPending atomically moves up to limit eligible events (pending,
	// failed past their retry backoff, or processing past the visibility
	// timeout) to processing. Two concurrent claims never return the same
	// event.
	ClaimPending(ctx context.Context, limit int) ([]*models.DomainEvent, error)

	MarkCompleted(ctx context.Context, eventID string) error

	// MarkFailed records the error, increments attempts and schedules the
	// next retry window.
	MarkFailed(ctx context.Context, eventID string, procErr error, nextRetryAt *time.Time) error

	MarkDismissed(ctx context.Context, eventID string) error

	// MarkPending re-queues a failed event for manual retry.
	MarkPending(ctx context.Context, eventID string) error

	GetByID(ctx context.Context, eventID string) (*models.DomainEvent, error)
	List(ctx context.Context, opts ListEventsOptions) ([]*models.DomainEvent, error)
}

// ListEventsOptions filters and paginates event listings.
type ListEventsOptions struct {
	Status models.EventStatus
	Type   string
	Limit  int
	Offset int
}

// WorkflowRepository stores workflows with their triggers and actions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	// GetByTriggerType returns matchable workflows having at least one
	// trigger of the given type; triggers and actions are loaded ordered.
	GetByTriggerType(ctx context.Context, triggerType string) ([]*models.Workflow, error)

	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionLogRepository is the append-only execution log sink. Each row is
// committed independently so a long execution's partial progress is always
// visible.
type ExecutionLogRepository interface {
	Write(ctx context.Context, log *models.ExecutionLog) error

	List(ctx context.Context, opts ListLogsOptions) ([]*models.ExecutionLog, error)
	GetByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)

	// CountStartedToday counts non-skipped executions of the workflow whose
	// first log row started within the given UTC day.
	CountStartedToday(ctx context.Context, workflowID string, day time.Time) (int, error)

	// LastStartedAt returns the start time of the workflow's most recent
	// non-skipped execution, or nil when it has never run.
	LastStartedAt(ctx context.Context, workflowID string) (*time.Time, error)

	Stats(ctx context.Context) (*LogStats, error)
}

// ListLogsOptions filters and paginates execution log listings.
type ListLogsOptions struct {
	WorkflowID  string
	ExecutionID string
	Status      models.LogStatus
	Limit       int
	Offset      int
}

// LogStats summarizes execution log history for the admin stats endpoint.
type LogStats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByWorkflow  map[string]int `json:"by_workflow"`
	ByActionTyp map[string]int `json:"by_action_type"`
}

// Persistence aggregates the storage repositories behind one backend.
type Persistence interface {
	EventRepository() EventRepository
	WorkflowRepository() WorkflowRepository
	ExecutionLogRepository() ExecutionLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
