package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/file"
)

func writeRun(t *testing.T, logs persistence.ExecutionLogRepository, workflowID string, status models.LogStatus, startedAt time.Time) {
	t.Helper()

	require.NoError(t, logs.Write(context.Background(), &models.ExecutionLog{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		ExecutionID: uuid.New().String(),
		ActionType:  "log",
		Status:      status,
		StartedAt:   startedAt,
	}))
}

func TestGuard_Unlimited(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	guard := NewGuard(persist.ExecutionLogRepository())

	wf := &models.Workflow{ID: uuid.New().String(), Name: "unbounded"}

	allowed, reason, err := guard.Allow(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestGuard_DailyLimit(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	logs := persist.ExecutionLogRepository()
	guard := NewGuard(logs)

	wf := &models.Workflow{ID: uuid.New().String(), Name: "capped", MaxExecutionsPerDay: 2}
	now := time.Now().UTC()

	writeRun(t, logs, wf.ID, models.LogStatusCompleted, now.Add(-2*time.Hour))

	allowed, _, err := guard.Allow(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, allowed)

	writeRun(t, logs, wf.ID, models.LogStatusFailed, now.Add(-time.Hour))

	allowed, reason, err := guard.Allow(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, ReasonDailyLimit, reason)
}

func TestGuard_SkippedRunsDoNotCountAgainstLimit(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	logs := persist.ExecutionLogRepository()
	guard := NewGuard(logs)

	wf := &models.Workflow{ID: uuid.New().String(), Name: "capped", MaxExecutionsPerDay: 1}
	now := time.Now().UTC()

	writeRun(t, logs, wf.ID, models.LogStatusSkipped, now.Add(-time.Hour))

	allowed, _, err := guard.Allow(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGuard_Cooldown(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	logs := persist.ExecutionLogRepository()
	guard := NewGuard(logs)

	wf := &models.Workflow{ID: uuid.New().String(), Name: "spaced", CooldownMinutes: 30}
	now := time.Now().UTC()

	writeRun(t, logs, wf.ID, models.LogStatusCompleted, now.Add(-10*time.Minute))

	allowed, reason, err := guard.Allow(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, ReasonCooldown, reason)

	// Pretend half an hour passed.
	guard.now = func() time.Time { return now.Add(31 * time.Minute) }

	allowed, _, err = guard.Allow(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, allowed)
}
