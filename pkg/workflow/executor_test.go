package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/file"
	"github.com/arborops/canopy/pkg/protocol"
	"github.com/arborops/canopy/pkg/registry"
)

// stubAction records calls and returns a configured result.
type stubAction struct {
	calls *[]string
	name  string
	err   error
}

func (a *stubAction) Execute(context.Context, models.ExecutionContext, *slog.Logger) (map[string]any, error) {
	*a.calls = append(*a.calls, a.name)

	if a.err != nil {
		return nil, a.err
	}

	return map[string]any{"action": a.name}, nil
}

type stubFactory struct {
	id    string
	calls *[]string
	fail  map[string]error
}

func (f *stubFactory) ID() string { return f.id }

func (f *stubFactory) Create(config map[string]any) (protocol.Action, error) {
	name, _ := config["name"].(string)

	return &stubAction{calls: f.calls, name: name, err: f.fail[name]}, nil
}

func (f *stubFactory) Schema() map[string]any { return nil }

func newTestExecutor(t *testing.T, calls *[]string, fail map[string]error) (*Executor, persistence.ExecutionLogRepository) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logs := persist.ExecutionLogRepository()

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterAction(&stubFactory{id: "stub", calls: calls, fail: fail})

	executor := NewExecutor(reg, logs, NewGuard(logs), nil, nil)

	return executor, logs
}

func stubWorkflow(actions ...*models.Action) *models.Workflow {
	wf := &models.Workflow{
		ID:       uuid.New().String(),
		Name:     "test workflow",
		IsActive: true,
		Actions:  actions,
	}

	for i, action := range actions {
		action.ID = uuid.New().String()
		action.WorkflowID = wf.ID
		action.Order = i
	}

	return wf
}

func TestExecutor_RunAllActionsInOrder(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, nil)

	wf := stubWorkflow(
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "first"}},
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "second"}},
	)

	executionID, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})

	assert.Equal(t, models.ExecutionStatusCompleted, status)
	assert.Equal(t, []string{"first", "second"}, calls)

	rows, err := logs.GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, models.LogStatusCompleted, row.Status)
		assert.Equal(t, wf.ID, row.WorkflowID)
		assert.Equal(t, "evt-1", row.EventID)
		assert.NotNil(t, row.CompletedAt)
	}

	assert.Equal(t, models.ExecutionStatusCompleted, models.DeriveExecutionStatus(rows))
}

func TestExecutor_ActionOrderFieldWinsOverSliceOrder(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, nil)

	// The stored slice is reversed relative to the Order field, as a file
	// store round-trip of an out-of-order request would leave it.
	wf := &models.Workflow{
		ID:       uuid.New().String(),
		Name:     "misordered workflow",
		IsActive: true,
		Actions: []*models.Action{
			{ID: uuid.New().String(), ActionType: "stub", Order: 2, Config: map[string]any{"name": "second"}},
			{ID: uuid.New().String(), ActionType: "stub", Order: 1, Config: map[string]any{"name": "first"}},
		},
	}

	workflows := file.NewPersistence(t.TempDir()).WorkflowRepository()
	require.NoError(t, workflows.Save(context.Background(), wf))

	loaded, err := workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)

	executionID, status := executor.Run(context.Background(), loaded, "evt-1", "invoice.paid", map[string]any{})

	assert.Equal(t, models.ExecutionStatusCompleted, status)
	assert.Equal(t, []string{"first", "second"}, calls)

	rows, err := logs.GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"first", "second"}, []string{
		rows[0].InputData["name"].(string),
		rows[1].InputData["name"].(string),
	})
}

func TestExecutor_FailureTruncatesSequence(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, map[string]error{"second": errors.New("boom")})

	wf := stubWorkflow(
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "first"}},
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "second"}},
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "third"}},
	)

	executionID, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})

	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.Equal(t, []string{"first", "second"}, calls)

	rows, err := logs.GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, models.ExecutionStatusFailed, models.DeriveExecutionStatus(rows))
}

func TestExecutor_ContinueOnErrorRunsRemaining(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, map[string]error{"second": errors.New("boom")})

	wf := stubWorkflow(
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "first"}},
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "second"}, ContinueOnError: true},
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "third"}},
	)

	executionID, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})

	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.Equal(t, []string{"first", "second", "third"}, calls)

	rows, err := logs.GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExecutor_UnknownActionTypeRecordedAsFailure(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, nil)

	wf := stubWorkflow(
		&models.Action{ActionType: "does_not_exist", Config: map[string]any{}},
	)

	executionID, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})

	assert.Equal(t, models.ExecutionStatusFailed, status)

	rows, err := logs.GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.LogStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "not registered")
}

func TestExecutor_DailyLimitWritesOneSkippedLog(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, nil)

	wf := stubWorkflow(
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "first"}},
	)
	wf.MaxExecutionsPerDay = 1

	_, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})
	require.Equal(t, models.ExecutionStatusCompleted, status)

	skippedID, _ := executor.Run(context.Background(), wf, "evt-2", "job.completed", map[string]any{})

	assert.Equal(t, []string{"first"}, calls, "second run must not execute actions")

	rows, err := logs.GetByExecutionID(context.Background(), skippedID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.LogStatusSkipped, rows[0].Status)
	assert.Equal(t, ReasonDailyLimit, rows[0].ErrorMessage)
}

func TestExecutor_DelayWaitsBeforeAction(t *testing.T) {
	var calls []string

	executor, _ := newTestExecutor(t, &calls, nil)

	var slept []time.Duration

	executor.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)

		return nil
	}

	wf := stubWorkflow(
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "delayed"}, DelayMinutes: 15},
	)

	_, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})

	assert.Equal(t, models.ExecutionStatusCompleted, status)
	assert.Equal(t, []time.Duration{15 * time.Minute}, slept)
	assert.Equal(t, []string{"delayed"}, calls)
}

func TestExecutor_CanceledDelayAbortsRun(t *testing.T) {
	var calls []string

	executor, logs := newTestExecutor(t, &calls, nil)
	executor.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	wf := stubWorkflow(
		&models.Action{ActionType: "stub", Config: map[string]any{"name": "delayed"}, DelayMinutes: 5},
	)

	executionID, status := executor.Run(context.Background(), wf, "evt-1", "job.completed", map[string]any{})

	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.Empty(t, calls)

	rows, err := logs.GetByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.LogStatusFailed, rows[0].Status)
}
