// Package postgresql provides the PostgreSQL persistence implementation for
// events, workflows and execution logs.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/sqlbase"
)

// DefaultVisibilityTimeout is how long a claimed event may sit in
// processing before it becomes re-claimable (stuck-event recovery).
const DefaultVisibilityTimeout = 10 * time.Minute

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	eventRepo    *EventRepository
	workflowRepo *WorkflowRepository
	logRepo      *ExecutionLogRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	return NewPersistenceWithVisibilityTimeout(ctx, logger, databaseURL, DefaultVisibilityTimeout)
}

// NewPersistenceWithVisibilityTimeout is NewPersistence with an explicit
// stuck-event visibility timeout.
func NewPersistenceWithVisibilityTimeout(ctx context.Context, logger *slog.Logger, databaseURL string, visibility time.Duration) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		eventRepo:    NewEventRepository(database, logger, visibility),
		workflowRepo: NewWorkflowRepository(database, logger),
		logRepo:      NewExecutionLogRepository(database, logger),
	}, nil
}

// EventRepository returns the event store implementation.
func (p *Persistence) EventRepository() persistence.EventRepository {
	return p.eventRepo
}

// WorkflowRepository returns the workflow repository implementation.
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// ExecutionLogRepository returns the execution log sink implementation.
func (p *Persistence) ExecutionLogRepository() persistence.ExecutionLogRepository {
	return p.logRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
