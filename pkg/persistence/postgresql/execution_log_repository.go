package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
)

// ExecutionLogRepository is the append-only execution log sink.
type ExecutionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionLogRepository creates a new execution log repository.
func NewExecutionLogRepository(db *sql.DB, logger *slog.Logger) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db, logger: logger}
}

// Write commits one log row. Each row has its own statement so partial
// progress of an aborted execution stays visible.
func (r *ExecutionLogRepository) Write(ctx context.Context, entry *models.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	inputJSON, err := marshalNullable(entry.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}

	outputJSON, err := marshalNullable(entry.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := `
		INSERT INTO execution_logs
			(id, workflow_id, execution_id, event_id, action_id, action_type, status, input_data, output_data, error_message, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.WorkflowID, entry.ExecutionID,
		nullableString(entry.EventID), nullableString(entry.ActionID),
		entry.ActionType, entry.Status,
		inputJSON, outputJSON, entry.ErrorMessage,
		entry.StartedAt, entry.CompletedAt, entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to write execution log: %w", err)
	}

	return nil
}

const logColumns = `
	id, workflow_id, execution_id, event_id, action_id, action_type, status,
	input_data, output_data, error_message, started_at, completed_at, duration_ms
`

// List returns log rows newest first, filtered and paginated.
func (r *ExecutionLogRepository) List(ctx context.Context, opts persistence.ListLogsOptions) ([]*models.ExecutionLog, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}

	query := `
		SELECT ` + logColumns + `
		FROM execution_logs
		WHERE ($1 = '' OR workflow_id::text = $1)
		  AND ($2 = '' OR execution_id::text = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5
	`

	return r.queryLogs(ctx, query, opts.WorkflowID, opts.ExecutionID, string(opts.Status), opts.Limit, opts.Offset)
}

// GetByExecutionID returns all rows of one execution in start order.
func (r *ExecutionLogRepository) GetByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY started_at
	`

	logs, err := r.queryLogs(ctx, query, executionID)
	if err != nil {
		return nil, err
	}

	if len(logs) == 0 {
		return nil, persistence.ErrExecutionNotFound
	}

	return logs, nil
}

// CountStartedToday counts distinct non-skipped executions of the workflow
// started within the UTC day containing the given time.
func (r *ExecutionLogRepository) CountStartedToday(ctx context.Context, workflowID string, day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT COUNT(DISTINCT execution_id)
		FROM execution_logs
		WHERE workflow_id = $1
		  AND status <> $2
		  AND started_at >= $3
		  AND started_at < $4
	`

	var count int

	err := r.db.QueryRowContext(ctx, query, workflowID, models.LogStatusSkipped, dayStart, dayEnd).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

// LastStartedAt returns the start time of the most recent non-skipped
// execution, or nil when the workflow has never run.
func (r *ExecutionLogRepository) LastStartedAt(ctx context.Context, workflowID string) (*time.Time, error) {
	query := `
		SELECT MAX(started_at)
		FROM execution_logs
		WHERE workflow_id = $1 AND status <> $2
	`

	var last sql.NullTime

	err := r.db.QueryRowContext(ctx, query, workflowID, models.LogStatusSkipped).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query last execution: %w", err)
	}

	if !last.Valid {
		return nil, nil
	}

	return &last.Time, nil
}

// Stats aggregates log history for the admin stats endpoint.
func (r *ExecutionLogRepository) Stats(ctx context.Context) (*persistence.LogStats, error) {
	stats := &persistence.LogStats{
		ByStatus:    make(map[string]int),
		ByWorkflow:  make(map[string]int),
		ByActionTyp: make(map[string]int),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT workflow_id::text, action_type, status, COUNT(*)
		FROM execution_logs
		GROUP BY workflow_id, action_type, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query log stats: %w", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			workflowID string
			actionType string
			status     string
			count      int
		)

		err = rows.Scan(&workflowID, &actionType, &status, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log stats: %w", err)
		}

		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByWorkflow[workflowID] += count
		stats.ByActionTyp[actionType] += count
	}

	return stats, rows.Err()
}

func (r *ExecutionLogRepository) queryLogs(ctx context.Context, query string, args ...any) ([]*models.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	logs := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		entry, scanErr := scanLog(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

func scanLog(rows *sql.Rows) (*models.ExecutionLog, error) {
	var (
		entry       models.ExecutionLog
		eventID     sql.NullString
		actionID    sql.NullString
		inputJSON   []byte
		outputJSON  []byte
		completedAt sql.NullTime
	)

	err := rows.Scan(
		&entry.ID, &entry.WorkflowID, &entry.ExecutionID,
		&eventID, &actionID, &entry.ActionType, &entry.Status,
		&inputJSON, &outputJSON, &entry.ErrorMessage,
		&entry.StartedAt, &completedAt, &entry.DurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution log: %w", err)
	}

	entry.EventID = eventID.String
	entry.ActionID = actionID.String

	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}

	if len(inputJSON) > 0 {
		err = json.Unmarshal(inputJSON, &entry.InputData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		err = json.Unmarshal(outputJSON, &entry.OutputData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
		}
	}

	return &entry, nil
}

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
