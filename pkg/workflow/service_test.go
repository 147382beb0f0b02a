package workflow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/actions/logmessage"
	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/file"
	"github.com/arborops/canopy/pkg/registry"
)

func newTestService(t *testing.T) (*Service, *file.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logs := persist.ExecutionLogRepository()

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterAction(logmessage.NewActionFactory())

	executor := NewExecutor(reg, logs, NewGuard(logs), nil, nil)
	service := NewService(persist.WorkflowRepository(), reg, executor, nil)

	return service, persist
}

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:     "payment thank you",
		IsActive: true,
		Triggers: []*models.Trigger{{
			TriggerType: "invoice.paid",
			Conditions:  []models.Condition{{Field: "amount", Operator: "gte", Value: 100}},
		}},
		Actions: []*models.Action{{
			ActionType: "log",
			Config:     map[string]any{"message": "paid"},
		}},
	}
}

func TestService_CreateAssignsIdentities(t *testing.T) {
	service, _ := newTestService(t)

	created, err := service.Create(context.Background(), validWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	require.Len(t, created.Triggers, 1)
	require.Len(t, created.Actions, 1)
	assert.NotEmpty(t, created.Triggers[0].ID)
	assert.Equal(t, created.ID, created.Triggers[0].WorkflowID)
	assert.Equal(t, created.ID, created.Actions[0].WorkflowID)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestService_CreateRejectsShortName(t *testing.T) {
	service, _ := newTestService(t)

	wf := validWorkflow()
	wf.Name = "ab"

	_, err := service.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestService_CreateRejectsUnknownActionType(t *testing.T) {
	service, _ := newTestService(t)

	wf := validWorkflow()
	wf.Actions[0].ActionType = "teleport"

	_, err := service.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestService_UpdatePreservesIdentityAndCreatedAt(t *testing.T) {
	service, _ := newTestService(t)

	created, err := service.Create(context.Background(), validWorkflow())
	require.NoError(t, err)

	update := validWorkflow()
	update.Name = "renamed workflow"

	updated, err := service.Update(context.Background(), created.ID, update)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "renamed workflow", updated.Name)
}

func TestService_UpdateMissingWorkflow(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Update(context.Background(), "no-such-id", validWorkflow())
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestService_CloneDeepCopies(t *testing.T) {
	service, _ := newTestService(t)

	created, err := service.Create(context.Background(), validWorkflow())
	require.NoError(t, err)

	clone, err := service.Clone(context.Background(), created.ID, "cloned")
	require.NoError(t, err)

	assert.NotEqual(t, created.ID, clone.ID)
	assert.Equal(t, "cloned", clone.Name)
	assert.False(t, clone.IsActive, "clones start inactive")
	require.Len(t, clone.Triggers, 1)
	assert.NotEqual(t, created.Triggers[0].ID, clone.Triggers[0].ID)
	assert.Equal(t, clone.ID, clone.Triggers[0].WorkflowID)

	// Mutating the clone's config must not touch the source.
	clone.Actions[0].Config["message"] = "changed"
	source, err := service.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", source.Actions[0].Config["message"])
}

func TestService_CreateFromTemplate(t *testing.T) {
	service, _ := newTestService(t)

	template := validWorkflow()
	template.IsTemplate = true

	created, err := service.Create(context.Background(), template)
	require.NoError(t, err)

	wf, err := service.CreateFromTemplate(context.Background(), created.ID, "my workflow")
	require.NoError(t, err)
	assert.False(t, wf.IsTemplate)
	assert.Equal(t, "my workflow", wf.Name)

	// A non-template cannot be instantiated.
	_, err = service.CreateFromTemplate(context.Background(), wf.ID, "again")
	require.ErrorIs(t, err, ErrNotTemplate)
}

func TestService_ExecuteManual(t *testing.T) {
	service, persist := newTestService(t)

	created, err := service.Create(context.Background(), validWorkflow())
	require.NoError(t, err)

	executionID, err := service.ExecuteManual(context.Background(), created.ID, "invoice", "INV-9", map[string]any{"amount": 250})
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	// The run is dispatched asynchronously.
	require.Eventually(t, func() bool {
		rows, err := persist.ExecutionLogRepository().GetByExecutionID(context.Background(), executionID)

		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rows, err := persist.ExecutionLogRepository().GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.LogStatusCompleted, rows[0].Status)
}

func TestService_ExecuteManualMissingWorkflow(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.ExecuteManual(context.Background(), "no-such-id", "invoice", "INV-1", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
