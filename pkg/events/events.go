// Package events defines the lifecycle notifications published on the
// internal event bus as the automation engine records and processes domain
// events.
package events

import (
	"time"

	"github.com/arborops/canopy/pkg/models"
)

type EventType string

// Bus topic.
const Topic = "canopy.automation"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Event store lifecycle.
	EventRecordedEvent    EventType = "event.recorded"
	EventProcessedEvent   EventType = "event.processed"
	EventFailedEvent      EventType = "event.failed"
	ProcessRequestedEvent EventType = "process.requested"

	// Workflow execution lifecycle.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionSkippedEvent   EventType = "execution.skipped"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EventRecorded is published after the emitter durably appends a new domain
// event. Subscribing processors use it as a wake-up.
type EventRecorded struct {
	BaseEvent

	EventID   string `json:"event_id"`
	EventType string `json:"domain_event_type"`
}

func (e EventRecorded) GetType() EventType {
	return EventRecordedEvent
}

// EventProcessed is published when a domain event finishes processing.
type EventProcessed struct {
	BaseEvent

	EventID    string `json:"event_id"`
	Executions int    `json:"executions"`
}

func (e EventProcessed) GetType() EventType {
	return EventProcessedEvent
}

// EventFailed is published when a domain event's processing errors.
type EventFailed struct {
	BaseEvent

	EventID  string `json:"event_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func (e EventFailed) GetType() EventType {
	return EventFailedEvent
}

// ProcessRequested is an on-demand kick (admin "process now" or retry).
type ProcessRequested struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ProcessRequested) GetType() EventType {
	return ProcessRequestedEvent
}

// ExecutionStarted is published when a matched workflow begins running.
type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	EventID     string `json:"event_id,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionCompleted is published when every action of a run completed.
type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// ExecutionFailed is published when a run is aborted or an action failed.
type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionSkipped is published when the rate limit or cooldown gate
// prevented a run.
type ExecutionSkipped struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Reason      string `json:"reason"`
}

func (e ExecutionSkipped) GetType() EventType {
	return ExecutionSkippedEvent
}

// StatusOf maps a derived execution status to its lifecycle event type.
func StatusOf(status models.ExecutionStatus) EventType {
	switch status {
	case models.ExecutionStatusFailed:
		return ExecutionFailedEvent
	case models.ExecutionStatusCompleted:
		return ExecutionCompletedEvent
	default:
		return ExecutionStartedEvent
	}
}
