// Package emitter is the fire-and-forget entry point business operations
// use to record domain events. Emit never blocks the caller and never
// surfaces an error; events are buffered in memory and drained to the event
// store by a background writer.
package emitter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arborops/canopy/pkg/eventbus"
	"github.com/arborops/canopy/pkg/events"
	"github.com/arborops/canopy/pkg/log"
	"github.com/arborops/canopy/pkg/persistence"
)

const DefaultBufferSize = 1024

type pendingEvent struct {
	eventType string
	payload   map[string]any
}

// Emitter buffers domain events and appends them to the event store in the
// background. When the buffer is full the oldest queued event is dropped to
// make room; drops and append failures are logged, never raised.
type Emitter struct {
	events persistence.EventRepository
	bus    eventbus.EventPublisher
	logger *slog.Logger
	buffer chan pendingEvent
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an emitter draining into the given event store. The
// bus is optional; when set, an EventRecorded notification is published
// after each successful append so processors wake up immediately.
func NewEmitter(eventRepo persistence.EventRepository, bus eventbus.EventPublisher, logger *slog.Logger) *Emitter {
	return NewEmitterWithBuffer(eventRepo, bus, logger, DefaultBufferSize)
}

// NewEmitterWithBuffer creates an emitter with an explicit buffer size.
func NewEmitterWithBuffer(eventRepo persistence.EventRepository, bus eventbus.EventPublisher, logger *slog.Logger, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if logger == nil {
		logger = log.WithModule("emitter")
	} else {
		logger = logger.With("module", "emitter")
	}

	e := &Emitter{
		events: eventRepo,
		bus:    bus,
		logger: logger,
		buffer: make(chan pendingEvent, bufferSize),
		done:   make(chan struct{}),
	}

	go e.drain()

	return e
}

// Emit queues a domain event for recording. It never blocks and never
// returns an error to the caller; a full buffer drops the oldest queued
// event in favor of the new one.
func (e *Emitter) Emit(eventType string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.logger.Warn("Event dropped, emitter closed", "event_type", eventType)

		return
	}

	ev := pendingEvent{eventType: eventType, payload: payload}

	for {
		select {
		case e.buffer <- ev:
			return
		default:
		}

		// Buffer full: drop the oldest queued event to make room. The
		// drain goroutine may win the race for it, which is fine.
		select {
		case dropped := <-e.buffer:
			e.logger.Warn("Event buffer full, dropping oldest queued event",
				"dropped_event_type", dropped.eventType,
				"event_type", eventType)
		default:
		}
	}
}

// Close stops accepting new events, flushes the buffer and waits for the
// drain loop to exit.
func (e *Emitter) Close() {
	e.mu.Lock()

	if !e.closed {
		e.closed = true
		close(e.buffer)
	}

	e.mu.Unlock()

	<-e.done
}

func (e *Emitter) drain() {
	defer close(e.done)

	for ev := range e.buffer {
		e.record(ev)
	}
}

func (e *Emitter) record(ev pendingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eventID, err := e.events.Append(ctx, ev.eventType, ev.payload)
	if err != nil {
		e.logger.Error("Failed to append event", "event_type", ev.eventType, "error", err)

		return
	}

	e.logger.Debug("Event recorded", "event_id", eventID, "event_type", ev.eventType)

	if e.bus == nil {
		return
	}

	notification := events.EventRecorded{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.EventRecordedEvent,
			Timestamp: time.Now().UTC(),
		},
		EventID:   eventID,
		EventType: ev.eventType,
	}

	if err := e.bus.Publish(ctx, eventID, notification); err != nil {
		e.logger.Warn("Failed to publish event recorded notification", "event_id", eventID, "error", err)
	}
}
