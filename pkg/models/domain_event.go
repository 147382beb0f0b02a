// Package models defines the core domain models for business-event automation.
package models

import "time"

// EventStatus represents the lifecycle state of a domain event.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"    // Recorded, waiting for a processor
	EventStatusProcessing EventStatus = "processing" // Claimed by a processor
	EventStatusCompleted  EventStatus = "completed"  // Matching and execution finished
	EventStatusFailed     EventStatus = "failed"     // Processing errored, retryable
	EventStatusDismissed  EventStatus = "dismissed"  // Manually discarded by an operator
)

// DomainEvent is an append-only record of something that happened in the
// business (invoice paid, quote sent, job completed). Events are created by
// the emitter and mutated only by the processor; they are never deleted.
type DomainEvent struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"       validate:"required"`
	Payload     map[string]any `json:"payload"`
	Status      EventStatus    `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
}

// Retryable reports whether a manual retry is allowed from the event's
// current status. Status transitions are monotonic except failed -> pending
// (manual retry) and pending|failed -> dismissed (manual dismiss).
func (e *DomainEvent) Retryable() bool {
	return e.Status == EventStatusFailed
}

// Dismissable reports whether the event can be manually dismissed.
func (e *DomainEvent) Dismissable() bool {
	return e.Status == EventStatusPending || e.Status == EventStatusFailed
}
