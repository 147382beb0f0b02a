package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
)

// EventRepository handles domain event database operations.
type EventRepository struct {
	db         *sql.DB
	logger     *slog.Logger
	visibility time.Duration
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sql.DB, logger *slog.Logger, visibility time.Duration) *EventRepository {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}

	return &EventRepository{db: db, logger: logger, visibility: visibility}
}

// Append records a new pending event. The insert is durable before return.
func (r *EventRepository) Append(ctx context.Context, eventType string, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", persistence.NewEventError("Append", "", fmt.Errorf("failed to marshal payload: %w", err))
	}

	id := uuid.New().String()

	query := `
		INSERT INTO events (id, type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
	`

	_, err = r.db.ExecContext(ctx, query, id, eventType, payloadJSON, models.EventStatusPending)
	if err != nil {
		return "", persistence.NewEventError("Append", id, err)
	}

	return id, nil
}

// ClaimPending atomically claims up to limit eligible events. Eligible means
// pending, failed with an elapsed retry window, or stuck in processing past
// the visibility timeout. FOR UPDATE SKIP LOCKED guarantees two concurrent
// processors never claim the same row.
func (r *EventRepository) ClaimPending(ctx context.Context, limit int) ([]*models.DomainEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		UPDATE events
		SET status = $1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM events
			WHERE status = $2
			   OR (status = $3 AND next_retry_at IS NOT NULL AND next_retry_at <= NOW())
			   OR (status = $1 AND claimed_at < NOW() - ($4 * INTERVAL '1 second'))
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, payload, status, attempts, last_error, created_at, claimed_at, completed_at, next_retry_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.EventStatusProcessing,
		models.EventStatusPending,
		models.EventStatusFailed,
		int(r.visibility.Seconds()),
		limit,
	)
	if err != nil {
		return nil, persistence.NewEventError("Claim", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	events := make([]*models.DomainEvent, 0, limit)

	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, persistence.NewEventError("Claim", "", scanErr)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewEventError("Claim", "", err)
	}

	return events, nil
}

// MarkCompleted finishes a processing event.
func (r *EventRepository) MarkCompleted(ctx context.Context, eventID string) error {
	query := `
		UPDATE events
		SET status = $1, completed_at = NOW(), last_error = NULL, next_retry_at = NULL
		WHERE id = $2
	`

	return r.exec(ctx, "MarkCompleted", eventID, query, models.EventStatusCompleted, eventID)
}

// MarkFailed records the processing error and, when nextRetryAt is non-nil,
// the time at which the event becomes claimable again. A nil nextRetryAt
// leaves the failure terminal until an operator retries it manually.
func (r *EventRepository) MarkFailed(ctx context.Context, eventID string, procErr error, nextRetryAt *time.Time) error {
	message := ""
	if procErr != nil {
		message = procErr.Error()
	}

	query := `
		UPDATE events
		SET status = $1, attempts = attempts + 1, last_error = $2, next_retry_at = $3
		WHERE id = $4
	`

	return r.exec(ctx, "MarkFailed", eventID, query, models.EventStatusFailed, message, nextRetryAt, eventID)
}

// MarkDismissed discards a pending or failed event.
func (r *EventRepository) MarkDismissed(ctx context.Context, eventID string) error {
	query := `
		UPDATE events
		SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`

	result, err := r.db.ExecContext(ctx, query,
		models.EventStatusDismissed, eventID,
		models.EventStatusPending, models.EventStatusFailed,
	)
	if err != nil {
		return persistence.NewEventError("MarkDismissed", eventID, err)
	}

	return r.checkTransition(ctx, "MarkDismissed", eventID, result)
}

// MarkPending re-queues a failed event for manual retry.
func (r *EventRepository) MarkPending(ctx context.Context, eventID string) error {
	query := `
		UPDATE events
		SET status = $1, next_retry_at = NULL, claimed_at = NULL
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query,
		models.EventStatusPending, eventID, models.EventStatusFailed,
	)
	if err != nil {
		return persistence.NewEventError("MarkPending", eventID, err)
	}

	return r.checkTransition(ctx, "MarkPending", eventID, result)
}

// GetByID returns an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*models.DomainEvent, error) {
	query := `
		SELECT id, type, payload, status, attempts, last_error, created_at, claimed_at, completed_at, next_retry_at
		FROM events
		WHERE id = $1
	`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEventError("GetByID", eventID, persistence.ErrEventNotFound)
		}

		return nil, persistence.NewEventError("GetByID", eventID, err)
	}

	return event, nil
}

// List returns events filtered by status and type, newest first.
func (r *EventRepository) List(ctx context.Context, opts persistence.ListEventsOptions) ([]*models.DomainEvent, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}

	query := `
		SELECT id, type, payload, status, attempts, last_error, created_at, claimed_at, completed_at, next_retry_at
		FROM events
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, string(opts.Status), opts.Type, opts.Limit, opts.Offset)
	if err != nil {
		return nil, persistence.NewEventError("List", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	events := make([]*models.DomainEvent, 0)

	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, persistence.NewEventError("List", "", scanErr)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewEventError("List", "", err)
	}

	return events, nil
}

func (r *EventRepository) exec(ctx context.Context, op, eventID, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	if affected == 0 {
		return persistence.NewEventError(op, eventID, persistence.ErrEventNotFound)
	}

	return nil
}

// checkTransition distinguishes "no such event" from "status does not allow
// this transition" for conditional updates.
func (r *EventRepository) checkTransition(ctx context.Context, op, eventID string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)", eventID).Scan(&exists)
	if err != nil {
		return persistence.NewEventError(op, eventID, err)
	}

	if !exists {
		return persistence.NewEventError(op, eventID, persistence.ErrEventNotFound)
	}

	return persistence.NewEventError(op, eventID, persistence.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.DomainEvent, error) {
	var (
		event       models.DomainEvent
		payloadJSON []byte
		lastError   sql.NullString
		claimedAt   sql.NullTime
		completedAt sql.NullTime
		nextRetryAt sql.NullTime
	)

	err := row.Scan(
		&event.ID, &event.Type, &payloadJSON, &event.Status, &event.Attempts,
		&lastError, &event.CreatedAt, &claimedAt, &completedAt, &nextRetryAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &event.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	if lastError.Valid {
		event.LastError = &lastError.String
	}

	if claimedAt.Valid {
		event.ClaimedAt = &claimedAt.Time
	}

	if completedAt.Valid {
		event.CompletedAt = &completedAt.Time
	}

	if nextRetryAt.Valid {
		event.NextRetryAt = &nextRetryAt.Time
	}

	return &event, nil
}
