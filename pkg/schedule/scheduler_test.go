package schedule

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/actions/logmessage"
	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/file"
	"github.com/arborops/canopy/pkg/registry"
	"github.com/arborops/canopy/pkg/workflow"
)

func newTestScheduler(t *testing.T) (*Scheduler, *file.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logs := persist.ExecutionLogRepository()

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterAction(logmessage.NewActionFactory())

	executor := workflow.NewExecutor(reg, logs, workflow.NewGuard(logs), nil, nil)

	return NewScheduler(persist.WorkflowRepository(), executor, nil), persist
}

func scheduledWorkflow(cronExpr string) *models.Workflow {
	wf := &models.Workflow{
		ID:       uuid.New().String(),
		Name:     "weekly report",
		IsActive: true,
		Triggers: []*models.Trigger{{
			ID:          uuid.New().String(),
			TriggerType: models.TriggerTypeSchedule,
			Config:      map[string]any{"cron": cronExpr},
		}},
		Actions: []*models.Action{{
			ID:         uuid.New().String(),
			ActionType: "log",
			Config:     map[string]any{"message": "tick"},
		}},
	}

	wf.Triggers[0].WorkflowID = wf.ID
	wf.Actions[0].WorkflowID = wf.ID

	return wf
}

func TestScheduler_RefreshBuildsEntries(t *testing.T) {
	scheduler, persist := newTestScheduler(t)

	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), scheduledWorkflow("@hourly")))
	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), scheduledWorkflow("0 9 * * 1")))

	require.NoError(t, scheduler.Refresh(context.Background()))
	assert.Equal(t, 2, scheduler.Entries())

	// Refresh must replace, not accumulate.
	require.NoError(t, scheduler.Refresh(context.Background()))
	assert.Equal(t, 2, scheduler.Entries())
}

func TestScheduler_RefreshSkipsInvalidCron(t *testing.T) {
	scheduler, persist := newTestScheduler(t)

	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), scheduledWorkflow("not a cron expr")))

	require.NoError(t, scheduler.Refresh(context.Background()))
	assert.Zero(t, scheduler.Entries())
}

func TestScheduler_FireRunsWorkflow(t *testing.T) {
	scheduler, persist := newTestScheduler(t)

	wf := scheduledWorkflow("@hourly")
	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), wf))

	scheduler.fire(wf.ID, wf.Triggers[0].ID, nil)

	rows, err := persist.ExecutionLogRepository().List(context.Background(), persistence.ListLogsOptions{WorkflowID: wf.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.LogStatusCompleted, rows[0].Status)
}

func TestScheduler_FireSkipsPausedWorkflow(t *testing.T) {
	scheduler, persist := newTestScheduler(t)

	wf := scheduledWorkflow("@hourly")
	wf.IsActive = false
	require.NoError(t, persist.WorkflowRepository().Save(context.Background(), wf))

	scheduler.fire(wf.ID, wf.Triggers[0].ID, nil)

	rows, err := persist.ExecutionLogRepository().List(context.Background(), persistence.ListLogsOptions{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
