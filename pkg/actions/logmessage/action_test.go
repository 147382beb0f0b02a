package logmessage

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/models"
)

func TestAction_Execute(t *testing.T) {
	factory := NewActionFactory()

	assert.Equal(t, "log", factory.ID())

	action, err := factory.Create(map[string]any{
		"message": "processed {{.event_type}} for {{.payload.customer_name}}",
		"level":   "warn",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	executionCtx := models.ExecutionContext{
		EventType: "job.completed",
		Payload:   map[string]any{"customer_name": "Pat"},
	}

	result, err := action.Execute(context.Background(), executionCtx, logger)
	require.NoError(t, err)

	assert.Equal(t, "processed job.completed for Pat", result["message"])
	assert.Equal(t, "warn", result["level"])
	assert.Contains(t, buf.String(), "processed job.completed for Pat")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestAction_Execute_PayloadAndExecutionFields(t *testing.T) {
	factory := NewActionFactory()

	// The same grammar the other built-in actions render with.
	action, err := factory.Create(map[string]any{
		"message": "invoice {{.payload.invoice_id}} paid, run {{.execution.id}}",
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{
		ExecutionID: "exec-7",
		EventType:   "invoice_paid",
		Payload:     map[string]any{"invoice_id": "INV-42"},
	}

	result, err := action.Execute(context.Background(), executionCtx, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "invoice INV-42 paid, run exec-7", result["message"])
}

func TestActionFactory_Create_Defaults(t *testing.T) {
	factory := NewActionFactory()

	action, err := factory.Create(map[string]any{})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{Payload: map[string]any{}}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "info", result["level"])
}
