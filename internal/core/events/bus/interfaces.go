package bus

import (
	"time"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
)

// Event types published by the modification runtime.
const (
	SlotGranted       = "slot.granted"
	SlotRevoked       = "slot.revoked"
	SlotUpdated       = "slot.updated"
	TemplatesReloaded = "templates.reloaded"
)

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Delivery is synchronous in the publisher goroutine and follows
// subscription order. Handler errors are joined and returned from Publish;
// one failing handler does not stop delivery to the rest.
type EventBus interface {
	Publish(event Event) error
	// Subscribe registers a handler for one event type.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// SubscribeFiltered registers a handler that only sees events accepted by filter.
	SubscribeFiltered(eventType string, filter EventFilter, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error
	// Subscribers reports the active subscriptions for eventType.
	Subscribers(eventType string) int

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	GetMetrics() EventBusMetrics
}

// Event describes one change to an entity's slots. Record is nil for
// revocations and for events that are not about a single slot.
type Event struct {
	Type       string
	Entity     entity.ID
	Remote     bool
	SlotID     slot.ID
	TemplateID string
	Record     *slot.Record
	Timestamp  time.Time
}

type (
	EventHandler func(event Event) error
	// EventFilter returns false to skip delivery to one subscription.
	EventFilter func(event Event) bool
)

// Subscription is a registered handler. Cancel is safe to call repeatedly.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}

// EventBusObserver is notified about every delivery. Observers should return quickly.
type EventBusObserver interface {
	OnDelivered(eventType string, handlers int, err error, duration time.Duration)
}

// EventBusMetrics is updated only while at least one observer is registered.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	Filtered          uint64
}
