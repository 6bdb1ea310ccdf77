package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is something that happened to one aggregate of one tenant
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	TenantID() uuid.UUID
}

// AggregateRef identifies the aggregate an event is about
type AggregateRef struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// EventEnvelope holds the fields every event shares. Concrete events embed it.
type EventEnvelope struct {
	ID        uuid.UUID    `json:"event_id"`
	Type      string       `json:"event_type"`
	At        time.Time    `json:"occurred_at"`
	Aggregate AggregateRef `json:"aggregate"`
	Tenant    uuid.UUID    `json:"tenant_id"`
}

// NewEventEnvelope stamps a new event id and the current UTC time
func NewEventEnvelope(eventType, aggregateType string, aggregateID, tenantID uuid.UUID) EventEnvelope {
	return EventEnvelope{
		ID:        uuid.New(),
		Type:      eventType,
		At:        time.Now().UTC(),
		Aggregate: AggregateRef{Type: aggregateType, ID: aggregateID},
		Tenant:    tenantID,
	}
}

func (e EventEnvelope) EventID() uuid.UUID { return e.ID }
func (e EventEnvelope) EventType() string { return e.Type }
func (e EventEnvelope) OccurredAt() time.Time { return e.At }
func (e EventEnvelope) AggregateID() uuid.UUID { return e.Aggregate.ID }
func (e EventEnvelope) AggregateType() string { return e.Aggregate.Type }
func (e EventEnvelope) TenantID() uuid.UUID { return e.Tenant }

// EventHandler reacts to published events. EventTypes lists the types it
// wants when subscribed without explicit types; empty means all of them.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher hands events to subscribers. An error means the events
// were not accepted; handler failures are never reported back.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber manages subscriptions
type EventSubscriber interface {
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus is a publisher and subscriber with an asynchronous dispatch
// phase between Start and Stop. Stop drains what was already accepted.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
