// Package logmessage provides the log action, useful for tracing workflow
// runs without side effects.
package logmessage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/protocol"
	"github.com/arborops/canopy/pkg/template"
)

// ActionFactory creates log actions.
type ActionFactory struct{}

// NewActionFactory creates a new log action factory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the action type tag.
func (*ActionFactory) ID() string {
	return "log"
}

// Create builds a log action from configuration.
func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	message, _ := config["message"].(string)
	if message == "" {
		message = "workflow action executed"
	}

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Action{message: message, level: level}, nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating.",
			},
			"level": map[string]any{
				"type":    "string",
				"default": "info",
				"enum":    []string{"debug", "info", "warn", "error"},
			},
		},
	}
}

// Action writes a rendered message to the structured log.
type Action struct {
	message string
	level   string
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "log")

	rendered, err := template.RenderWithContext(a.message, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	message := fmt.Sprintf("%v", rendered)

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message, "level": a.level}, nil
}
