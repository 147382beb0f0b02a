// Package main provides the Canopy worker, the long-running process that
// drains the event store and executes matching workflows.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arborops/canopy/pkg/emitter"
	"github.com/arborops/canopy/pkg/eventbus"
	"github.com/arborops/canopy/pkg/events"
	"github.com/arborops/canopy/pkg/intake"
	"github.com/arborops/canopy/pkg/otelhelper"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/processor"
	"github.com/arborops/canopy/pkg/registry"
	"github.com/arborops/canopy/pkg/schedule"
	"github.com/arborops/canopy/pkg/workflow"
)

type WorkerConfig struct {
	ID         string
	RedisAddr  string
	RedisQueue string
	Tracing    bool
}

type Worker struct {
	config      WorkerConfig
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	registry    *registry.Registry
	logger      *slog.Logger
}

func NewWorker(
	config WorkerConfig,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	registry *registry.Registry,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		config:      config,
		persistence: persistence,
		eventBus:    eventBus,
		registry:    registry,
		logger:      logger,
	}
}

// Start wires the pipeline and blocks until the context is canceled or a
// termination signal arrives.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	guard := workflow.NewGuard(w.persistence.ExecutionLogRepository())
	executor := workflow.NewExecutor(w.registry, w.persistence.ExecutionLogRepository(), guard, w.eventBus, w.logger)
	matcher := workflow.NewMatcher(w.persistence.WorkflowRepository(), w.logger)
	proc := processor.NewProcessor(w.persistence.EventRepository(), matcher, executor, w.eventBus, w.logger)

	if w.config.Tracing {
		tracer, err := otelhelper.NewTracer(ctx, "canopy-worker")
		if err != nil {
			w.logger.WarnContext(ctx, "Tracing disabled, failed to initialize tracer", "error", err)
		} else {
			executor.WithTracer(tracer)
			proc.WithTracer(tracer)
		}
	}

	w.eventBus.Handle(events.EventRecordedEvent, func(_ context.Context, _ any) error {
		proc.TriggerProcessing()

		return nil
	})
	w.eventBus.Handle(events.ProcessRequestedEvent, func(_ context.Context, _ any) error {
		proc.TriggerProcessing()

		return nil
	})

	go func() {
		err := w.eventBus.Subscribe(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "Event bus subscription stopped", "error", err)
		}
	}()

	scheduler := schedule.NewScheduler(w.persistence.WorkflowRepository(), executor, w.logger)

	go func() {
		err := scheduler.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "Scheduler stopped", "error", err)
		}
	}()

	em := emitter.NewEmitter(w.persistence.EventRepository(), w.eventBus, w.logger)
	defer em.Close()

	if w.config.RedisAddr != "" {
		redisIntake := intake.NewRedisIntake(intake.Config{
			Addr:  w.config.RedisAddr,
			Queue: w.config.RedisQueue,
		}, em, w.logger)

		err := redisIntake.Start(ctx)
		if err != nil {
			return err
		}

		defer func() {
			if err := redisIntake.Close(); err != nil {
				w.logger.ErrorContext(ctx, "Failed to close Redis intake", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			w.logger.InfoContext(ctx, "Shutting down worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.InfoContext(ctx, "Worker started successfully")

	err := proc.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
