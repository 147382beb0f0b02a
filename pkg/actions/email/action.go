// Package email provides the email action, delivering through an injected
// EmailSender collaborator.
package email

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

// ActionFactory creates email actions bound to one sender.
type ActionFactory struct {
	sender protocol.EmailSender
}

// NewActionFactory creates a new email action factory.
func NewActionFactory(sender protocol.EmailSender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

// ID returns the action type tag.
func (*ActionFactory) ID() string {
	return "email"
}

// Create builds an email action from configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	to, _ := config["to"].(string)
	if to == "" {
		return nil, ErrRecipientMissing
	}

	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)

	return &Action{
		sender:  f.sender,
		to:      to,
		subject: subject,
		body:    body,
	}, nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient address. Supports templating against the event payload.",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject line. Supports templating.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Message body. Supports templating.",
			},
		},
		"required": []string{"to"},
	}
}

// Action sends one email.
type Action struct {
	sender  protocol.EmailSender
	to      string
	subject string
	body    string
}

// Execute renders the recipient, subject and body, then hands delivery to
// the sender. Idempotency (e.g. "already sent" checks) belongs to the
// sender implementation.
func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "email")

	rendered, err := template.RenderConfig(map[string]any{
		"to":      a.to,
		"subject": a.subject,
		"body":    a.body,
	}, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render email config: %w", err)
	}

	to := fmt.Sprintf("%v", rendered["to"])
	subject := fmt.Sprintf("%v", rendered["subject"])
	body := fmt.Sprintf("%v", rendered["body"])

	logger.InfoContext(ctx, "Sending email", "to", to, "subject", subject)

	err = a.sender.SendEmail(ctx, to, subject, body)
	if err != nil {
		return nil, fmt.Errorf("email delivery failed: %w", err)
	}

	return map[string]any{
		"to":      to,
		"subject": subject,
		"sent":    true,
	}, nil
}
