package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborops/canopy/pkg/eventbus"
	"github.com/arborops/canopy/pkg/events"
	"github.com/arborops/canopy/pkg/log"
	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/otelhelper"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/registry"
)

// DefaultActionTimeout bounds a single action's Execute call.
const DefaultActionTimeout = 30 * time.Second

// Executor runs one workflow's action sequence for one triggering event,
// writing an execution log row per action as it goes. Action errors are
// recorded, never propagated to the caller.
type Executor struct {
	registry      *registry.Registry
	logs          persistence.ExecutionLogRepository
	guard         *Guard
	bus           eventbus.EventPublisher
	logger        *slog.Logger
	actionTimeout time.Duration
	tracer        trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(reg *registry.Registry, logs persistence.ExecutionLogRepository, guard *Guard, bus eventbus.EventPublisher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = log.WithModule("executor")
	} else {
		logger = logger.With("module", "executor")
	}

	return &Executor{
		registry:      reg,
		logs:          logs,
		guard:         guard,
		bus:           bus,
		logger:        logger,
		actionTimeout: DefaultActionTimeout,
		sleep:         sleepCtx,
	}
}

// WithTracer enables span emission around workflow runs.
func (e *Executor) WithTracer(tracer trace.Tracer) *Executor {
	e.tracer = tracer

	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the workflow for the given event context. It blocks through
// action delays, so callers dispatch runs on their own goroutine. The
// returned status is derived from the run's log rows.
func (e *Executor) Run(ctx context.Context, wf *models.Workflow, eventID, eventType string, payload map[string]any) (string, models.ExecutionStatus) {
	executionID := uuid.New().String()

	return executionID, e.RunWithID(ctx, executionID, wf, eventID, eventType, payload)
}

// RunWithID is Run with a caller-chosen execution ID, used when the run is
// dispatched asynchronously and the ID must be known up front.
func (e *Executor) RunWithID(ctx context.Context, executionID string, wf *models.Workflow, eventID, eventType string, payload map[string]any) models.ExecutionStatus {
	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
			attribute.String(otelhelper.WorkflowIDKey, wf.ID),
			attribute.String(otelhelper.WorkflowNameKey, wf.Name),
			attribute.String(otelhelper.ExecutionIDKey, executionID),
			attribute.String(otelhelper.EventTypeKey, eventType),
		)
		defer span.End()
	}

	logger := e.logger.With(
		"workflow_id", wf.ID,
		"execution_id", executionID,
		"event_id", eventID,
		"event_type", eventType,
	)

	if e.guard != nil {
		allowed, reason, err := e.guard.Allow(ctx, wf)
		if err != nil {
			logger.Error("Rate limit check failed", "error", err)

			e.writeLog(ctx, logger, &models.ExecutionLog{
				ID:           uuid.New().String(),
				WorkflowID:   wf.ID,
				ExecutionID:  executionID,
				EventID:      eventID,
				Status:       models.LogStatusSkipped,
				ErrorMessage: err.Error(),
				StartedAt:    time.Now().UTC(),
			})

			return models.ExecutionStatusCompleted
		}

		if !allowed {
			logger.Info("Execution skipped", "reason", reason)

			now := time.Now().UTC()
			e.writeLog(ctx, logger, &models.ExecutionLog{
				ID:           uuid.New().String(),
				WorkflowID:   wf.ID,
				ExecutionID:  executionID,
				EventID:      eventID,
				Status:       models.LogStatusSkipped,
				ErrorMessage: reason,
				StartedAt:    now,
				CompletedAt:  &now,
			})

			e.publish(ctx, executionID, events.ExecutionSkipped{
				BaseEvent:   e.baseEvent(events.ExecutionSkippedEvent),
				ExecutionID: executionID,
				WorkflowID:  wf.ID,
				Reason:      reason,
			})

			return models.ExecutionStatusCompleted
		}
	}

	logger.Info("Starting workflow execution", "actions", len(wf.Actions))

	startedAt := time.Now()

	e.publish(ctx, executionID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent),
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		EventID:     eventID,
	})

	executionCtx := models.ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		EventID:     eventID,
		EventType:   eventType,
		Payload:     payload,
	}

	status := models.ExecutionStatusCompleted

	for _, action := range wf.OrderedActions() {
		failed, aborted := e.runAction(ctx, logger, executionCtx, action)
		if failed {
			status = models.ExecutionStatusFailed
		}

		if aborted {
			break
		}
	}

	if status == models.ExecutionStatusFailed {
		logger.Warn("Workflow execution failed")

		e.publish(ctx, executionID, events.ExecutionFailed{
			BaseEvent:   e.baseEvent(events.ExecutionFailedEvent),
			ExecutionID: executionID,
			WorkflowID:  wf.ID,
		})

		return status
	}

	logger.Info("Workflow execution completed", "duration", time.Since(startedAt))

	e.publish(ctx, executionID, events.ExecutionCompleted{
		BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent),
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		Duration:    time.Since(startedAt),
	})

	return status
}

// runAction executes one action and writes its log row. It reports whether
// the action failed and whether the run must stop here.
func (e *Executor) runAction(ctx context.Context, logger *slog.Logger, executionCtx models.ExecutionContext, action *models.Action) (failed, aborted bool) {
	logger = logger.With("action_id", action.ID, "action_type", action.ActionType)

	if action.DelayMinutes > 0 {
		logger.Debug("Delaying action", "delay_minutes", action.DelayMinutes)

		if err := e.sleep(ctx, time.Duration(action.DelayMinutes)*time.Minute); err != nil {
			e.writeLog(ctx, logger, e.actionLog(executionCtx, action, time.Now().UTC(), nil, err))

			return true, true
		}
	}

	startedAt := time.Now().UTC()

	row := func(output map[string]any, actionErr error) {
		e.writeLog(ctx, logger, e.actionLog(executionCtx, action, startedAt, output, actionErr))
	}

	impl, err := e.registry.CreateAction(action.ActionType, action.Config)
	if err != nil {
		logger.Warn("Failed to create action", "error", err)
		row(nil, err)

		return true, !action.ContinueOnError
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	output, err := impl.Execute(actionCtx, executionCtx, logger)
	if err != nil {
		logger.Warn("Action failed", "error", err)
		otelhelper.SetError(trace.SpanFromContext(ctx), err,
			attribute.String(otelhelper.ActionIDKey, action.ID),
			attribute.String(otelhelper.ActionTypeKey, action.ActionType))
		row(output, err)

		return true, !action.ContinueOnError
	}

	row(output, nil)

	return false, false
}

func (e *Executor) actionLog(executionCtx models.ExecutionContext, action *models.Action, startedAt time.Time, output map[string]any, actionErr error) *models.ExecutionLog {
	completedAt := time.Now().UTC()

	row := &models.ExecutionLog{
		ID:          uuid.New().String(),
		WorkflowID:  executionCtx.WorkflowID,
		ExecutionID: executionCtx.ExecutionID,
		EventID:     executionCtx.EventID,
		ActionID:    action.ID,
		ActionType:  action.ActionType,
		Status:      models.LogStatusCompleted,
		InputData:   action.Config,
		OutputData:  output,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}

	if actionErr != nil {
		row.Status = models.LogStatusFailed
		row.ErrorMessage = actionErr.Error()
	}

	return row
}

// writeLog commits one log row independently of the rest of the run. A
// write failure is logged and swallowed so the run can continue.
func (e *Executor) writeLog(ctx context.Context, logger *slog.Logger, row *models.ExecutionLog) {
	if err := e.logs.Write(ctx, row); err != nil {
		logger.Error("Failed to write execution log", "log_id", row.ID, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Failed to publish execution event", "error", err)
	}
}

func (e *Executor) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
