package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventEntitySaved, func(_ context.Context, event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(context.Background(), EventEntitySaved, EntityPayload{EntityType: "agency", LocalID: 7})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventEntitySaved, received.Type)
	assert.Equal(t, OriginLocal, received.Origin)

	var decoded EntityPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, int64(7), decoded.LocalID)
	assert.Equal(t, "agency", decoded.EntityType)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(context.Context, *Event) error { count1++; return nil })
	bus.Subscribe("event", func(context.Context, *Event) error { count2++; return nil })
	bus.Subscribe("other", func(context.Context, *Event) error { t.Fatal("unexpected"); return nil })

	bus.Publish(context.Background(), &Event{Type: "event"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusOrigin(t *testing.T) {
	bus := NewEventBus()
	var origins []Origin
	bus.Subscribe(EventEntityDeleted, func(ctx context.Context, e *Event) error {
		origins = append(origins, e.Origin, OriginFrom(ctx))
		return nil
	})

	ctx := WithOrigin(context.Background(), OriginWebhook)
	require.NoError(t, bus.PublishJSON(ctx, EventEntityDeleted, EntityPayload{EntityType: "property", LocalID: 1}))

	assert.Equal(t, []Origin{OriginWebhook, OriginWebhook}, origins)
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var failed []string
	bus.OnError(func(e *Event, err error) { failed = append(failed, e.Type+":"+err.Error()) })

	calledAfter := false
	bus.Subscribe("x", func(context.Context, *Event) error { return errors.New("boom") })
	bus.Subscribe("x", func(context.Context, *Event) error { calledAfter = true; return nil })

	bus.Publish(context.Background(), &Event{Type: "x"})

	assert.Equal(t, []string{"x:boom"}, failed)
	assert.True(t, calledAfter)
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(context.Background(), "x", nil))
}

func TestNewJSONEventRejectsBadPayload(t *testing.T) {
	_, err := NewJSONEvent("x", make(chan int))
	assert.Error(t, err)
}
