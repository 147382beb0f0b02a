package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
)

// DefaultVisibilityTimeout mirrors the PostgreSQL implementation's
// stuck-event recovery window.
const DefaultVisibilityTimeout = 10 * time.Minute

// EventRepository stores events as JSON files under <root>/events. A single
// mutex serializes claims, which is sufficient for one process.
type EventRepository struct {
	root       string
	visibility time.Duration
	mu         sync.Mutex
}

// NewEventRepository creates a new file-backed event repository.
func NewEventRepository(root string) *EventRepository {
	return &EventRepository{root: root, visibility: DefaultVisibilityTimeout}
}

func (r *EventRepository) dir() string {
	return filepath.Join(r.root, "events")
}

func (r *EventRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// Append records a new pending event.
func (r *EventRepository) Append(_ context.Context, eventType string, payload map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payload == nil {
		payload = map[string]any{}
	}

	event := &models.DomainEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Status:    models.EventStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	err := r.write(event)
	if err != nil {
		return "", persistence.NewEventError("Append", event.ID, err)
	}

	return event.ID, nil
}

// ClaimPending claims up to limit eligible events under the repository mutex.
func (r *EventRepository) ClaimPending(_ context.Context, limit int) ([]*models.DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	all, err := r.readAll()
	if err != nil {
		return nil, persistence.NewEventError("Claim", "", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	now := time.Now().UTC()
	claimed := make([]*models.DomainEvent, 0, limit)

	for _, event := range all {
		if len(claimed) == limit {
			break
		}

		if !r.claimable(event, now) {
			continue
		}

		event.Status = models.EventStatusProcessing
		event.ClaimedAt = &now

		err = r.write(event)
		if err != nil {
			return nil, persistence.NewEventError("Claim", event.ID, err)
		}

		claimed = append(claimed, event)
	}

	return claimed, nil
}

func (r *EventRepository) claimable(event *models.DomainEvent, now time.Time) bool {
	switch event.Status {
	case models.EventStatusPending:
		return true
	case models.EventStatusFailed:
		return event.NextRetryAt != nil && !event.NextRetryAt.After(now)
	case models.EventStatusProcessing:
		return event.ClaimedAt != nil && now.Sub(*event.ClaimedAt) > r.visibility
	default:
		return false
	}
}

// MarkCompleted finishes a processing event.
func (r *EventRepository) MarkCompleted(_ context.Context, eventID string) error {
	return r.update("MarkCompleted", eventID, func(event *models.DomainEvent) error {
		now := time.Now().UTC()
		event.Status = models.EventStatusCompleted
		event.CompletedAt = &now
		event.LastError = nil
		event.NextRetryAt = nil

		return nil
	})
}

// MarkFailed records the error and the next retry window.
func (r *EventRepository) MarkFailed(_ context.Context, eventID string, procErr error, nextRetryAt *time.Time) error {
	return r.update("MarkFailed", eventID, func(event *models.DomainEvent) error {
		message := ""
		if procErr != nil {
			message = procErr.Error()
		}

		event.Status = models.EventStatusFailed
		event.Attempts++
		event.LastError = &message
		event.NextRetryAt = nextRetryAt

		return nil
	})
}

// MarkDismissed discards a pending or failed event.
func (r *EventRepository) MarkDismissed(_ context.Context, eventID string) error {
	return r.update("MarkDismissed", eventID, func(event *models.DomainEvent) error {
		if !event.Dismissable() {
			return persistence.ErrInvalidTransition
		}

		event.Status = models.EventStatusDismissed

		return nil
	})
}

// MarkPending re-queues a failed event for manual retry.
func (r *EventRepository) MarkPending(_ context.Context, eventID string) error {
	return r.update("MarkPending", eventID, func(event *models.DomainEvent) error {
		if !event.Retryable() {
			return persistence.ErrInvalidTransition
		}

		event.Status = models.EventStatusPending
		event.NextRetryAt = nil
		event.ClaimedAt = nil

		return nil
	})
}

// GetByID returns an event by its ID.
func (r *EventRepository) GetByID(_ context.Context, eventID string) (*models.DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.read(eventID)
	if err != nil {
		return nil, persistence.NewEventError("GetByID", eventID, err)
	}

	return event, nil
}

// List returns events newest first, filtered by status and type.
func (r *EventRepository) List(_ context.Context, opts persistence.ListEventsOptions) ([]*models.DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}

	all, err := r.readAll()
	if err != nil {
		return nil, persistence.NewEventError("List", "", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	filtered := make([]*models.DomainEvent, 0)

	for _, event := range all {
		if opts.Status != "" && event.Status != opts.Status {
			continue
		}

		if opts.Type != "" && event.Type != opts.Type {
			continue
		}

		filtered = append(filtered, event)
	}

	if opts.Offset >= len(filtered) {
		return []*models.DomainEvent{}, nil
	}

	end := opts.Offset + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[opts.Offset:end], nil
}

func (r *EventRepository) update(op, eventID string, mutate func(*models.DomainEvent) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.read(eventID)
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	err = mutate(event)
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	err = r.write(event)
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	return nil
}

func (r *EventRepository) read(id string) (*models.DomainEvent, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrEventNotFound
		}

		return nil, err
	}

	var event models.DomainEvent

	err = json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", id, err)
	}

	return &event, nil
}

func (r *EventRepository) readAll() ([]*models.DomainEvent, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.DomainEvent{}, nil
		}

		return nil, err
	}

	events := make([]*models.DomainEvent, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		event, readErr := r.read(entry.Name()[:len(entry.Name())-len(".json")])
		if readErr != nil {
			return nil, readErr
		}

		events = append(events, event)
	}

	return events, nil
}

func (r *EventRepository) write(event *models.DomainEvent) error {
	err := os.MkdirAll(r.dir(), 0o755)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	return os.WriteFile(r.path(event.ID), data, 0o644)
}
