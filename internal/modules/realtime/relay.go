// README: Relay turns booking domain events into realtime messages, dispatch offers and journal records.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"haul/internal/modules/booking"
	"haul/internal/modules/matching"
	"haul/internal/observability"
	"haul/internal/types"
)

type Matcher interface {
	FindBestDriver(ctx context.Context, class types.VehicleClass, pickup types.Point) (*matching.Candidate, bool, error)
}

// Journal receives every domain event. *kafka.Writer implements it.
type Journal interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

const (
	journalWriteTimeout = 2 * time.Second
	journalBuffer       = 256
)

type Relay struct {
	bus     *Bus
	matcher Matcher
	journal Journal
	records chan kafka.Message
	log     *slog.Logger
}

// NewRelay builds a relay. journal may be nil to disable the event journal.
func NewRelay(bus *Bus, matcher Matcher, journal Journal, log *slog.Logger) *Relay {
	r := &Relay{bus: bus, matcher: matcher, journal: journal, log: log}
	if journal != nil {
		r.records = make(chan kafka.Message, journalBuffer)
	}
	return r
}

// Run consumes events until ctx ends. It runs apart from the request path so a
// slow transport never holds up a booking transition. Journal writes have a
// goroutine of their own so a slow broker never holds up broadcasts.
func (r *Relay) Run(ctx context.Context, events <-chan booking.DomainEvent) {
	if r.records != nil {
		go r.runJournal(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			r.Handle(ctx, e)
		}
	}
}

// Handle broadcasts and dispatches e, then queues it for the journal.
func (r *Relay) Handle(ctx context.Context, e booking.DomainEvent) {
	b := e.Booking
	if e.Kind == booking.EventStatusChanged {
		r.bus.PublishStatusChange(ctx, b.ID, e.To)
	}
	if e.To == booking.StatusPending {
		r.dispatch(ctx, b)
	}
	r.enqueueJournal(e)
}

// dispatch offers a newly pending booking to the nearest driver. No match just
// leaves it pending for drivers polling the pending list.
func (r *Relay) dispatch(ctx context.Context, b booking.Booking) {
	if r.matcher == nil {
		return
	}
	c, ok, err := r.matcher.FindBestDriver(ctx, b.VehicleClass, b.Pickup.Point)
	if err != nil {
		r.log.Error("match driver", "booking_id", b.ID, "err", err)
		return
	}
	if !ok {
		r.log.Info("no driver available", "booking_id", b.ID, "vehicle_class", b.VehicleClass)
		return
	}
	r.bus.NotifyDriverOfRequest(ctx, c.Driver.ID, Summarize(b))
	r.log.Info("booking offered", "booking_id", b.ID, "driver_id", c.Driver.ID, "proximity", c.Proximity)
}

// enqueueJournal never blocks. A full buffer means the broker has fallen
// behind, and the record is dropped and counted.
func (r *Relay) enqueueJournal(e booking.DomainEvent) {
	if r.records == nil {
		return
	}
	value, err := json.Marshal(e)
	if err != nil {
		r.log.Error("encode journal event", "booking_id", e.Booking.ID, "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.Booking.ID),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "status", Value: []byte(e.To)},
		},
	}
	select {
	case r.records <- msg:
	default:
		observability.JournalFailures.Inc()
		r.log.Warn("journal buffer full, dropping record", "booking_id", e.Booking.ID, "kind", e.Kind)
	}
}

// runJournal writes queued records in order until ctx ends.
func (r *Relay) runJournal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.records:
			r.writeJournal(ctx, msg)
		}
	}
}

func (r *Relay) writeJournal(ctx context.Context, msg kafka.Message) {
	wctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	defer cancel()
	if err := r.journal.WriteMessages(wctx, msg); err != nil {
		observability.JournalFailures.Inc()
		r.log.Warn("journal write failed", "booking_id", string(msg.Key), "err", err)
	}
}
