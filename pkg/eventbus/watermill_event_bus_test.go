package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/channels/gochannel"
	"github.com/arborops/canopy/pkg/events"
)

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	received := make(chan *events.EventRecorded, 1)

	bus.Handle(events.EventRecordedEvent, func(_ context.Context, event any) error {
		recorded, ok := event.(*events.EventRecorded)
		require.True(t, ok)

		received <- recorded

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	recorded := events.EventRecorded{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.EventRecordedEvent,
			Timestamp: time.Now().UTC(),
		},
		EventID:   "evt-1",
		EventType: "invoice_paid",
	}

	require.NoError(t, bus.Publish(ctx, "evt-1", recorded))

	select {
	case got := <-received:
		assert.Equal(t, "evt-1", got.EventID)
		assert.Equal(t, "invoice_paid", got.EventType)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledTypeIsAcked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered: publish must not error or wedge the loop.
	err = bus.Publish(ctx, "key", events.ProcessRequested{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.ProcessRequestedEvent},
	})
	assert.NoError(t, err)
}
