// Package sms provides the SMS action, delivering through an injected
// SMSSender collaborator.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/protocol"
	"github.com/arborops/canopy/pkg/template"
)

var ErrRecipientMissing = errors.New("missing or invalid 'to' in configuration")

// ActionFactory creates SMS actions bound to one sender.
type ActionFactory struct {
	sender protocol.SMSSender
}

// NewActionFactory creates a new SMS action factory.
func NewActionFactory(sender protocol.SMSSender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

// ID returns the action type tag.
func (*ActionFactory) ID() string {
	return "sms"
}

// Create builds an SMS action from configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	to, _ := config["to"].(string)
	if to == "" {
		return nil, ErrRecipientMissing
	}

	message, _ := config["message"].(string)

	return &Action{
		sender:  f.sender,
		to:      to,
		message: message,
	}, nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient phone number. Supports templating.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message text. Supports templating.",
			},
		},
		"required": []string{"to", "message"},
	}
}

// Action sends one text message.
type Action struct {
	sender  protocol.SMSSender
	to      string
	message string
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "sms")

	rendered, err := template.RenderConfig(map[string]any{
		"to":      a.to,
		"message": a.message,
	}, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render sms config: %w", err)
	}

	to := fmt.Sprintf("%v", rendered["to"])
	message := fmt.Sprintf("%v", rendered["message"])

	logger.InfoContext(ctx, "Sending SMS", "to", to)

	err = a.sender.SendSMS(ctx, to, message)
	if err != nil {
		return nil, fmt.Errorf("sms delivery failed: %w", err)
	}

	return map[string]any{
		"to":   to,
		"sent": true,
	}, nil
}
