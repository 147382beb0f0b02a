// Package createtask provides the create_task action, creating tasks in the
// business application through an injected TaskCreator collaborator.
package createtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/protocol"
	"github.com/arborops/canopy/pkg/template"
)

var ErrTitleMissing = errors.New("missing or invalid 'title' in configuration")

// ActionFactory creates task actions bound to one creator.
type ActionFactory struct {
	creator protocol.TaskCreator
}

// NewActionFactory creates a new create_task action factory.
func NewActionFactory(creator protocol.TaskCreator) *ActionFactory {
	return &ActionFactory{creator: creator}
}

// ID returns the action type tag.
func (*ActionFactory) ID() string {
	return "create_task"
}

// Create builds a create_task action from configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	title, _ := config["title"].(string)
	if title == "" {
		return nil, ErrTitleMissing
	}

	description, _ := config["description"].(string)

	return &Action{
		creator:     f.creator,
		title:       title,
		description: description,
	}, nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Task title. Supports templating.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Task description. Supports templating.",
			},
		},
		"required": []string{"title"},
	}
}

// Action creates one task.
type Action struct {
	creator     protocol.TaskCreator
	title       string
	description string
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "create_task")

	rendered, err := template.RenderConfig(map[string]any{
		"title":       a.title,
		"description": a.description,
	}, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render task config: %w", err)
	}

	title := fmt.Sprintf("%v", rendered["title"])
	description := fmt.Sprintf("%v", rendered["description"])

	metadata := map[string]any{
		"execution_id": executionCtx.ExecutionID,
		"workflow_id":  executionCtx.WorkflowID,
		"event_id":     executionCtx.EventID,
	}

	logger.InfoContext(ctx, "Creating task", "title", title)

	taskID, err := a.creator.CreateTask(ctx, title, description, metadata)
	if err != nil {
		return nil, fmt.Errorf("task creation failed: %w", err)
	}

	return map[string]any{
		"task_id": taskID,
		"title":   title,
	}, nil
}
