package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last.
	for _, table := range []string{"execution_logs", "actions", "triggers", "workflows", "events", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("canopy_test"),
			postgres.WithUsername("canopy"),
			postgres.WithPassword("canopy"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDB(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func TestNewPersistence_MigrationsAndHealth(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestEventRepository_Lifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.EventRepository()

	id, err := repo.Append(ctx, "invoice_paid", map[string]any{"invoice_id": "inv-1", "amount": float64(1500)})
	require.NoError(t, err)

	event, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPending, event.Status)
	assert.Equal(t, "inv-1", event.Payload["invoice_id"])

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)

	// Claimed events are invisible to a second claimer.
	again, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.MarkCompleted(ctx, id))

	event, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, event.Status)
}

func TestEventRepository_RetryAndDismiss(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.EventRepository()

	id, err := repo.Append(ctx, "quote_sent", nil)
	require.NoError(t, err)

	_, err = repo.ClaimPending(ctx, 1)
	require.NoError(t, err)

	retryAt := time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.MarkFailed(ctx, id, assert.AnError, &retryAt))

	event, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	assert.Equal(t, 1, event.Attempts)
	require.NotNil(t, event.NextRetryAt)

	// The retry window is in the future, so the event stays invisible.
	claimed, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, repo.MarkPending(ctx, id))

	claimed, err = repo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.MarkFailed(ctx, id, assert.AnError, nil))
	require.NoError(t, repo.MarkDismissed(ctx, id))

	event, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusDismissed, event.Status)
}

func TestEventRepository_ListFilters(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.EventRepository()

	_, err := repo.Append(ctx, "invoice_paid", nil)
	require.NoError(t, err)

	quoteID, err := repo.Append(ctx, "quote_sent", nil)
	require.NoError(t, err)

	byType, err := repo.List(ctx, persistence.ListEventsOptions{Type: "quote_sent"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, quoteID, byType[0].ID)

	pending, err := repo.List(ctx, persistence.ListEventsOptions{Status: models.EventStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := repo.List(ctx, persistence.ListEventsOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestWorkflowRepository_RoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		Name:                "Invoice follow-up",
		Description:         "Thank the customer after payment",
		IsActive:            true,
		MaxExecutionsPerDay: 5,
		CooldownMinutes:     30,
		Triggers: []*models.Trigger{
			{TriggerType: "invoice_paid", Order: 0, Conditions: []models.Condition{
				{Field: "amount", Operator: "gte", Value: float64(100)},
			}},
		},
		Actions: []*models.Action{
			{ActionType: "email", Order: 0, Config: map[string]any{"template": "receipt"}},
			{ActionType: "sms", Order: 1, DelayMinutes: 10, ContinueOnError: true},
		},
	}

	require.NoError(t, repo.Save(ctx, workflow))

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice follow-up", loaded.Name)
	assert.Equal(t, 5, loaded.MaxExecutionsPerDay)
	require.Len(t, loaded.Triggers, 1)
	require.Len(t, loaded.Triggers[0].Conditions, 1)
	assert.Equal(t, "gte", loaded.Triggers[0].Conditions[0].Operator)
	assert.Equal(t, float64(100), loaded.Triggers[0].Conditions[0].Value)
	require.Len(t, loaded.Actions, 2)
	assert.Equal(t, "sms", loaded.Actions[1].ActionType, "actions ordered")
	assert.True(t, loaded.Actions[1].ContinueOnError)

	// Updating replaces triggers and actions wholesale.
	loaded.Actions = loaded.Actions[:1]
	require.NoError(t, repo.Save(ctx, loaded))

	reloaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Actions, 1)
}

func TestWorkflowRepository_TriggerTypeLookup(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.WorkflowRepository()

	active := &models.Workflow{Name: "Active", IsActive: true, Triggers: []*models.Trigger{{TriggerType: "job_completed"}}}
	paused := &models.Workflow{Name: "Paused", IsActive: false, Triggers: []*models.Trigger{{TriggerType: "job_completed"}}}
	template := &models.Workflow{Name: "Template", IsActive: true, IsTemplate: true, Triggers: []*models.Trigger{{TriggerType: "job_completed"}}}

	for _, w := range []*models.Workflow{active, paused, template} {
		require.NoError(t, repo.Save(ctx, w))
	}

	matched, err := repo.GetByTriggerType(ctx, "job_completed")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, active.ID, matched[0].ID)

	require.NoError(t, repo.Delete(ctx, active.ID))

	matched, err = repo.GetByTriggerType(ctx, "job_completed")
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestExecutionLogRepository_GatesAndStats(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionLogRepository()

	now := time.Now().UTC()

	rows := []*models.ExecutionLog{
		{WorkflowID: "wf-1", ExecutionID: "exec-1", ActionType: "email", Status: models.LogStatusCompleted, StartedAt: now.Add(-2 * time.Hour)},
		{WorkflowID: "wf-1", ExecutionID: "exec-2", ActionType: "sms", Status: models.LogStatusFailed, StartedAt: now.Add(-time.Hour)},
		{WorkflowID: "wf-1", ExecutionID: "exec-skip", ActionType: "rate_limit", Status: models.LogStatusSkipped, StartedAt: now},
	}
	for _, row := range rows {
		require.NoError(t, repo.Write(ctx, row))
	}

	count, err := repo.CountStartedToday(ctx, "wf-1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "skipped rows never count toward the daily gate")

	last, err := repo.LastStartedAt(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, now.Add(-time.Hour), *last, time.Second)

	logs, err := repo.GetByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)

	_, err = repo.GetByExecutionID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["failed"])
	assert.Equal(t, 3, stats.ByWorkflow["wf-1"])
}
