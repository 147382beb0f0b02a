package protocol

import "context"

// Collaborator interfaces for side effects performed by built-in actions.
// Implementations own their idempotency (e.g. checking "already sent"
// before sending); the engine only invokes them and records the outcome.

// EmailSender delivers an email through an external provider.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a text message through an external provider.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// TaskCreator creates a task in the business application.
type TaskCreator interface {
	CreateTask(ctx context.Context, title, description string, metadata map[string]any) (string, error)
}
