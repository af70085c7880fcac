// README: Event bus: records locations and broadcasts location, status and request messages.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"haul/internal/modules/booking"
	"haul/internal/types"
)

type Locations interface {
	UpdateDriver(ctx context.Context, driverID types.ID, p types.Point) error
	UpdateBooking(ctx context.Context, bookingID types.ID, p types.Point) error
}

// Publisher moves a payload onto a channel. The Redis fan-out implements it for
// multi-instance deployments; without one, payloads go straight to the hub.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type localPublisher struct {
	hub *Hub
}

func (p localPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.hub.Deliver(channel, payload)
	return nil
}

type Bus struct {
	hub       *Hub
	locations Locations
	pub       Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewBus(hub *Hub, locations Locations, pub Publisher, log *slog.Logger) *Bus {
	if pub == nil {
		pub = localPublisher{hub: hub}
	}
	return &Bus{hub: hub, locations: locations, pub: pub, log: log, now: time.Now}
}

func (b *Bus) Hub() *Hub { return b.hub }

// PublishLocation stores the trip position and broadcasts it to the booking
// channel. Store failures are returned; broadcast is best effort.
func (b *Bus) PublishLocation(ctx context.Context, bookingID types.ID, p types.Point) error {
	if err := b.locations.UpdateBooking(ctx, bookingID, p); err != nil {
		return err
	}
	b.publish(ctx, BookingChannel(bookingID), Message{Type: TypeLocation, BookingID: bookingID, Point: &p})
	return nil
}

// PublishDriverLocation records where a driver is for matching, and when the
// driver is on a trip also feeds that trip's channel.
func (b *Bus) PublishDriverLocation(ctx context.Context, driverID, bookingID types.ID, p types.Point) error {
	if err := b.locations.UpdateDriver(ctx, driverID, p); err != nil {
		return err
	}
	if bookingID == "" {
		return nil
	}
	return b.PublishLocation(ctx, bookingID, p)
}

func (b *Bus) PublishStatusChange(ctx context.Context, bookingID types.ID, status booking.Status) {
	b.publish(ctx, BookingChannel(bookingID), Message{Type: TypeStatus, BookingID: bookingID, Status: status})
}

// NotifyDriverOfRequest pushes a request to one driver. Nothing is queued for
// drivers who are not listening; they can still pull pending bookings.
func (b *Bus) NotifyDriverOfRequest(ctx context.Context, driverID types.ID, req BookingSummary) {
	b.publish(ctx, DriverChannel(driverID), Message{Type: TypeBookingRequest, BookingID: req.ID, Request: &req})
}

func (b *Bus) publish(ctx context.Context, channel string, msg Message) {
	msg.Channel = channel
	if msg.At.IsZero() {
		msg.At = b.now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("encode realtime message", "channel", channel, "err", err)
		return
	}
	if err := b.pub.Publish(ctx, channel, payload); err != nil {
		b.log.Warn("realtime publish failed", "channel", channel, "type", msg.Type, "err", err)
	}
}
