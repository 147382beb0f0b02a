// Package protocol defines the contracts between the action executor and
// the capability implementations it dispatches to.
package protocol

import (
	"context"
	"log/slog"

	"github.com/arborops/canopy/pkg/models"
)

// Action is one executable capability instance, created from a validated
// config. Execute returns the action's output data; errors are captured by
// the executor and recorded per attempt, never propagated out of the run.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates actions of one type from raw config. ID is the
// action type tag stored on workflow actions; Schema is the JSON schema the
// registry validates configs against on workflow write.
type ActionFactory interface {
	ID() string
	Create(config map[string]any) (Action, error)
	Schema() map[string]any
}
