// Package processor drives domain events through the automation pipeline:
// claim, match, guard, execute, settle.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
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
	"github.com/arborops/canopy/pkg/workflow"
)

const (
	DefaultBatchSize    = 50
	DefaultTickInterval = 30 * time.Second

	// MaxAttempts bounds automatic retries; an exhausted event stays
	// failed until a manual retry.
	MaxAttempts = 5
)

// retryBackoff holds the wait before each automatic retry, indexed by the
// number of attempts already made.
var retryBackoff = []time.Duration{
	1 * time.Minute,
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
	16 * time.Minute,
}

// Processor claims pending events and dispatches matched workflow runs.
// Multiple processors may run concurrently against the same store; the
// claim operation guarantees each event is handled by exactly one.
type Processor struct {
	events   persistence.EventRepository
	matcher  *workflow.Matcher
	executor *workflow.Executor
	bus      eventbus.EventPublisher
	logger   *slog.Logger

	batchSize int
	interval  time.Duration
	kick      chan struct{}
	runs      sync.WaitGroup
	tracer    trace.Tracer
}

func NewProcessor(eventRepo persistence.EventRepository, matcher *workflow.Matcher, executor *workflow.Executor, bus eventbus.EventPublisher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = log.WithModule("processor")
	} else {
		logger = logger.With("module", "processor")
	}

	return &Processor{
		events:    eventRepo,
		matcher:   matcher,
		executor:  executor,
		bus:       bus,
		logger:    logger,
		batchSize: DefaultBatchSize,
		interval:  DefaultTickInterval,
		kick:      make(chan struct{}, 1),
	}
}

// WithTracer enables span emission around event processing.
func (p *Processor) WithTracer(tracer trace.Tracer) *Processor {
	p.tracer = tracer

	return p
}

// TriggerProcessing requests an immediate processing pass. It never blocks;
// a pass already requested absorbs further kicks.
func (p *Processor) TriggerProcessing() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start runs the processing loop until the context is canceled, then waits
// for in-flight workflow runs to finish.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Processor started", "batch_size", p.batchSize, "tick_interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Processor stopping, waiting for in-flight runs")
			p.runs.Wait()

			return ctx.Err()
		case <-p.kick:
		case <-ticker.C:
		}

		if _, err := p.ProcessNext(ctx, p.batchSize); err != nil {
			p.logger.Error("Processing pass failed", "error", err)
		}
	}
}

// ProcessNext claims up to batchSize eligible events and processes each.
// It returns the number of events claimed.
func (p *Processor) ProcessNext(ctx context.Context, batchSize int) (int, error) {
	claimed, err := p.events.ClaimPending(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim events: %w", err)
	}

	for _, event := range claimed {
		p.processEvent(ctx, event)
	}

	return len(claimed), nil
}

// Wait blocks until all dispatched workflow runs have finished. Useful for
// tests and clean shutdown outside of Start.
func (p *Processor) Wait() {
	p.runs.Wait()
}

// processEvent matches and dispatches workflow runs for one claimed event.
// Runs execute on their own goroutines so an action delay in one workflow
// never stalls the claim loop or sibling workflows; the event settles once
// its runs are dispatched.
func (p *Processor) processEvent(ctx context.Context, event *models.DomainEvent) {
	logger := p.logger.With("event_id", event.ID, "event_type", event.Type, "attempts", event.Attempts)

	if p.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, p.tracer, "event.process",
			attribute.String(otelhelper.EventIDKey, event.ID),
			attribute.String(otelhelper.EventTypeKey, event.Type),
		)
		defer span.End()
	}

	matched, err := p.matcher.Match(ctx, event)
	if err != nil {
		p.settleFailed(ctx, logger, event, err)

		return
	}

	// The event settles at dispatch, so runs outlive the claim pass:
	// Start waits for them on shutdown rather than aborting them.
	runCtx := context.WithoutCancel(ctx)

	for _, wf := range matched {
		p.runs.Add(1)

		go func(wf *models.Workflow) {
			defer p.runs.Done()

			p.executor.Run(runCtx, wf, event.ID, event.Type, event.Payload)
		}(wf)
	}

	if err := p.events.MarkCompleted(ctx, event.ID); err != nil {
		logger.Error("Failed to mark event completed", "error", err)

		return
	}

	logger.Info("Event processed", "matched_workflows", len(matched))

	p.publish(ctx, event.ID, events.EventProcessed{
		BaseEvent:  p.baseEvent(events.EventProcessedEvent),
		EventID:    event.ID,
		Executions: len(matched),
	})
}

// settleFailed records the failure and schedules the next retry. The
// attempt being settled is event.Attempts + 1; once MaxAttempts is reached
// no further retry is scheduled.
func (p *Processor) settleFailed(ctx context.Context, logger *slog.Logger, event *models.DomainEvent, procErr error) {
	otelhelper.SetError(trace.SpanFromContext(ctx), procErr,
		attribute.String(otelhelper.EventIDKey, event.ID))

	attempt := event.Attempts + 1

	var nextRetryAt *time.Time

	if attempt < MaxAttempts {
		backoff := retryBackoff[min(attempt-1, len(retryBackoff)-1)]
		at := time.Now().UTC().Add(backoff)
		nextRetryAt = &at

		logger.Warn("Event processing failed, retry scheduled",
			"error", procErr, "attempt", attempt, "next_retry_at", at)
	} else {
		logger.Error("Event processing failed, attempts exhausted",
			"error", procErr, "attempt", attempt)
	}

	if err := p.events.MarkFailed(ctx, event.ID, procErr, nextRetryAt); err != nil {
		logger.Error("Failed to mark event failed", "error", err)

		return
	}

	p.publish(ctx, event.ID, events.EventFailed{
		BaseEvent: p.baseEvent(events.EventFailedEvent),
		EventID:   event.ID,
		Error:     procErr.Error(),
		Attempts:  attempt,
	})
}

func (p *Processor) publish(ctx context.Context, key string, event eventbus.Event) {
	if p.bus == nil {
		return
	}

	if err := p.bus.Publish(ctx, key, event); err != nil {
		p.logger.Warn("Failed to publish processing event", "error", err)
	}
}

func (p *Processor) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
