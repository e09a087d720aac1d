// Package bus is the in-process diagnostics bus. Solvers publish what they
// discovered and what they saw go wrong; servers and tools subscribe.
package bus

import "time"

// AnyEvent subscribes a handler to every event type.
const AnyEvent = "*"

// EventBus is a thread-safe, synchronous pub/sub bus.
//
// - Handlers subscribe by Event.Type(), or to AnyEvent.
// - Publish calls handlers in subscription order on the caller goroutine.
// - Handler errors are joined and returned from Publish/PublishBatch.
// - Metrics are collected only while at least one observer is registered.
type EventBus interface {
	// Publish delivers the event synchronously to all active subscribers.
	Publish(event Event) error
	// PublishWithFilters drops the event without error if any filter rejects it.
	PublishWithFilters(event Event, filters ...EventFilter) error
	// PublishAsync delivers on a new goroutine. The channel receives the joined
	// handler error (or nil) and is then closed.
	PublishAsync(event Event) <-chan error
	// PublishBatch publishes events in order and aggregates errors across them.
	PublishBatch(events ...Event) error

	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe is safe to call with nil.
	Unsubscribe(Subscription) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a snapshot of counters accumulated while observed.
	GetMetrics() EventBusMetrics
}

// Event is an immutable diagnostic record.
type Event interface {
	ID() string
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	EventHandler func(event Event) error
	EventFilter  func(event Event) bool
)

type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel removes the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is told about every publish and delivery. Observers should
// return quickly.
type EventBusObserver interface {
	OnPublish(eventType string, event Event)
	OnDelivered(eventType string, handlers int, err error, duration time.Duration)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
}
