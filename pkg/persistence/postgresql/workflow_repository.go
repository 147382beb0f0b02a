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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , is_active
  , is_template
  , max_executions_per_day
  , cooldown_minutes
  , created_at
  , updated_at
  , deleted_at
`

// GetAll returns all non-deleted workflows with triggers and actions loaded.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryWorkflows(ctx, query)
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	err = r.loadTriggersAndActions(ctx, workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// GetByTriggerType returns matchable workflows having at least one trigger
// of the given type.
func (r *WorkflowRepository) GetByTriggerType(ctx context.Context, triggerType string) ([]*models.Workflow, error) {
	query := `
		SELECT DISTINCT ` + prefixColumns("w") + `
		FROM workflows w
		JOIN triggers t ON t.workflow_id = w.id
		WHERE w.deleted_at IS NULL
		  AND w.is_active = TRUE
		  AND w.is_template = FALSE
		  AND t.trigger_type = $1
		ORDER BY w.created_at DESC
	`

	return r.queryWorkflows(ctx, query, triggerType)
}

// Save upserts the workflow and replaces its trigger and action sets. The
// workflow exclusively owns both, so replacement keeps storage consistent
// with the in-memory composition.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	err = r.saveTx(ctx, tx, workflow)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) saveTx(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	upsert := `
		INSERT INTO workflows (id, name, description, is_active, is_template, max_executions_per_day, cooldown_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			is_template = EXCLUDED.is_template,
			max_executions_per_day = EXCLUDED.max_executions_per_day,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			updated_at = EXCLUDED.updated_at
	`

	_, err := tx.ExecContext(ctx, upsert,
		workflow.ID, workflow.Name, workflow.Description,
		workflow.IsActive, workflow.IsTemplate,
		workflow.MaxExecutionsPerDay, workflow.CooldownMinutes,
		workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM triggers WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear triggers: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM actions WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear actions: %w", err)
	}

	for _, trigger := range workflow.Triggers {
		if trigger.ID == "" {
			trigger.ID = uuid.New().String()
		}

		trigger.WorkflowID = workflow.ID

		configJSON, err := json.Marshal(orEmptyMap(trigger.Config))
		if err != nil {
			return fmt.Errorf("failed to marshal trigger config: %w", err)
		}

		conditionsJSON, err := json.Marshal(orEmptyConditions(trigger.Conditions))
		if err != nil {
			return fmt.Errorf("failed to marshal trigger conditions: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO triggers (id, workflow_id, trigger_type, config, conditions, trigger_order)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, trigger.ID, trigger.WorkflowID, trigger.TriggerType, configJSON, conditionsJSON, trigger.Order)
		if err != nil {
			return fmt.Errorf("failed to insert trigger: %w", err)
		}
	}

	for _, action := range workflow.Actions {
		if action.ID == "" {
			action.ID = uuid.New().String()
		}

		action.WorkflowID = workflow.ID

		configJSON, err := json.Marshal(orEmptyMap(action.Config))
		if err != nil {
			return fmt.Errorf("failed to marshal action config: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO actions (id, workflow_id, action_type, config, delay_minutes, action_order, continue_on_error)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, action.ID, action.WorkflowID, action.ActionType, configJSON, action.DelayMinutes, action.Order, action.ContinueOnError)
		if err != nil {
			return fmt.Errorf("failed to insert action: %w", err)
		}
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, scanErr := scanWorkflow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", scanErr)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		err = r.loadTriggersAndActions(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s children: %w", workflow.ID, err)
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) loadTriggersAndActions(ctx context.Context, workflow *models.Workflow) error {
	triggerRows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, trigger_type, config, conditions, trigger_order
		FROM triggers
		WHERE workflow_id = $1
		ORDER BY trigger_order
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query triggers: %w", err)
	}

	workflow.Triggers, err = collectTriggers(triggerRows)
	if err != nil {
		return err
	}

	actionRows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, action_type, config, delay_minutes, action_order, continue_on_error
		FROM actions
		WHERE workflow_id = $1
		ORDER BY action_order
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}

	workflow.Actions, err = collectActions(actionRows)

	return err
}

func collectTriggers(rows *sql.Rows) ([]*models.Trigger, error) {
	defer func() { _ = rows.Close() }()

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		var (
			trigger        models.Trigger
			configJSON     []byte
			conditionsJSON []byte
		)

		err := rows.Scan(&trigger.ID, &trigger.WorkflowID, &trigger.TriggerType, &configJSON, &conditionsJSON, &trigger.Order)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		err = json.Unmarshal(configJSON, &trigger.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}

		err = json.Unmarshal(conditionsJSON, &trigger.Conditions)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger conditions: %w", err)
		}

		triggers = append(triggers, &trigger)
	}

	return triggers, rows.Err()
}

func collectActions(rows *sql.Rows) ([]*models.Action, error) {
	defer func() { _ = rows.Close() }()

	actions := make([]*models.Action, 0)

	for rows.Next() {
		var (
			action     models.Action
			configJSON []byte
		)

		err := rows.Scan(&action.ID, &action.WorkflowID, &action.ActionType, &configJSON, &action.DelayMinutes, &action.Order, &action.ContinueOnError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		err = json.Unmarshal(configJSON, &action.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal action config: %w", err)
		}

		actions = append(actions, &action)
	}

	return actions, rows.Err()
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description,
		&workflow.IsActive, &workflow.IsTemplate,
		&workflow.MaxExecutionsPerDay, &workflow.CooldownMinutes,
		&workflow.CreatedAt, &workflow.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		workflow.DeletedAt = &deletedAt.Time
	}

	return &workflow, nil
}

func prefixColumns(alias string) string {
	return alias + `.id, ` + alias + `.name, ` + alias + `.description, ` +
		alias + `.is_active, ` + alias + `.is_template, ` +
		alias + `.max_executions_per_day, ` + alias + `.cooldown_minutes, ` +
		alias + `.created_at, ` + alias + `.updated_at, ` + alias + `.deleted_at`
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

func orEmptyConditions(c []models.Condition) []models.Condition {
	if c == nil {
		return []models.Condition{}
	}

	return c
}
