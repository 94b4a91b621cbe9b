// Package eventbus carries trigger hand-offs and execution notifications
// between the API process and workers.
package eventbus

import (
	"context"

	"github.com/dukex/triggerhub/pkg/events"
)

// Event is any payload from the events package.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events. key selects the partition, so events
// sharing a key are delivered in order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes consumed events to one handler per type.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event. A returned error
// nacks the message for redelivery.
type EventHandler func(ctx context.Context, event any) error

// EventBus is both ends of one transport.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
