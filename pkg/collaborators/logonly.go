package collaborators

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogOnlyCollaborator records what would have been sent without performing
// any delivery. Used in development when no application API is configured.
type LogOnlyCollaborator struct {
	logger *slog.Logger
}

func NewLogOnlyCollaborator(logger *slog.Logger) *LogOnlyCollaborator {
	return &LogOnlyCollaborator{logger: logger.With("module", "collaborators")}
}

func (l *LogOnlyCollaborator) SendEmail(ctx context.Context, to, subject, _ string) error {
	l.logger.InfoContext(ctx, "Email delivery suppressed", "to", to, "subject", subject)

	return nil
}

func (l *LogOnlyCollaborator) SendSMS(ctx context.Context, to, _ string) error {
	l.logger.InfoContext(ctx, "SMS delivery suppressed", "to", to)

	return nil
}

func (l *LogOnlyCollaborator) CreateTask(ctx context.Context, title, _ string, _ map[string]any) (string, error) {
	taskID := uuid.New().String()
	l.logger.InfoContext(ctx, "Task creation suppressed", "title", title, "task_id", taskID)

	return taskID, nil
}
