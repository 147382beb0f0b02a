package createtask

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/models"
)

type fakeCreator struct {
	title       string
	description string
	metadata    map[string]any
}

func (f *fakeCreator) CreateTask(_ context.Context, title, description string, metadata map[string]any) (string, error) {
	f.title = title
	f.description = description
	f.metadata = metadata

	return "task-99", nil
}

func TestActionFactory_Create_RequiresTitle(t *testing.T) {
	factory := NewActionFactory(&fakeCreator{})

	_, err := factory.Create(map[string]any{"description": "follow up"})
	require.ErrorIs(t, err, ErrTitleMissing)
}

func TestAction_Execute(t *testing.T) {
	creator := &fakeCreator{}
	factory := NewActionFactory(creator)

	assert.Equal(t, "create_task", factory.ID())

	action, err := factory.Create(map[string]any{
		"title":       "Follow up on {{.payload.estimate_id}}",
		"description": "Customer has not responded",
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		ExecutionID: "exec-7",
		WorkflowID:  "wf-3",
		EventID:     "evt-11",
		EventType:   "estimate.sent",
		Payload:     map[string]any{"estimate_id": "E-100"},
	}

	result, err := action.Execute(context.Background(), executionCtx, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "Follow up on E-100", creator.title)
	assert.Equal(t, "Customer has not responded", creator.description)
	assert.Equal(t, "exec-7", creator.metadata["execution_id"])
	assert.Equal(t, "wf-3", creator.metadata["workflow_id"])
	assert.Equal(t, "evt-11", creator.metadata["event_id"])
	assert.Equal(t, "task-99", result["task_id"])
}
