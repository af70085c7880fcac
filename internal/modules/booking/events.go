// README: Domain events emitted by the booking state machine for out-of-band subscribers.
package booking

import (
	"log/slog"
	"time"

	"haul/internal/observability"
	"haul/internal/types"
)

type EventKind string

const (
	EventCreated       EventKind = "booking.created"
	EventStatusChanged EventKind = "booking.status_changed"
)

// DomainEvent carries a snapshot of the booking right after the change.
type DomainEvent struct {
	Kind    EventKind `json:"kind"`
	Booking Booking   `json:"booking"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	ActorID *types.ID `json:"actor_id,omitempty"`
	At      time.Time `json:"at"`
}

// Emitter must not block the transition that produced the event.
type Emitter interface {
	Emit(e DomainEvent)
}

type nopEmitter struct{}

func (nopEmitter) Emit(DomainEvent) {}

// Queue is a bounded in-process event channel. Emit drops when the consumer
// falls behind.
type Queue struct {
	ch  chan DomainEvent
	log *slog.Logger
}

func NewQueue(size int, log *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan DomainEvent, size), log: log}
}

func (q *Queue) Emit(e DomainEvent) {
	select {
	case q.ch <- e:
	default:
		observability.EventsDropped.Inc()
		q.log.Warn("booking event dropped", "kind", e.Kind, "booking_id", e.Booking.ID, "to", e.To)
	}
}

func (q *Queue) Events() <-chan DomainEvent {
	return q.ch
}
