package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	EventEntitySaved   = "entity.saved"
	EventEntityDeleted = "entity.deleted"
)

// Origin identifies who caused a local change.
type Origin string

const (
	OriginLocal   Origin = "local"
	OriginWebhook Origin = "webhook"
	OriginSync    Origin = "sync"
)

type originKey struct{}

// WithOrigin marks every change made under ctx as coming from origin.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin stored in ctx, OriginLocal when unset.
func OriginFrom(ctx context.Context) Origin {
	if origin, ok := ctx.Value(originKey{}).(Origin); ok && origin != "" {
		return origin
	}
	return OriginLocal
}

// EntityPayload describes a local entity change.
type EntityPayload struct {
	EntityType string `json:"entity_type"`
	LocalID    int64  `json:"local_id"`
	SubKey     string `json:"sub_key,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Origin    Origin
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into out.
func (e *Event) Decode(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event *Event) error

// ErrorHandler receives handler failures.
type ErrorHandler func(event *Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     ErrorHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler failures.
func (b *EventBus) OnError(fn ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(ctx context.Context, event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Origin == "" {
		event.Origin = OriginFrom(ctx)
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(ctx, event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event stamped with
// the origin carried by ctx.
func (b *EventBus) PublishJSON(ctx context.Context, eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	event.Origin = OriginFrom(ctx)
	b.Publish(ctx, &event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
