// README: Realtime message shapes and logical channel names.
package realtime

import (
	"time"

	"haul/internal/modules/booking"
	"haul/internal/types"
)

type MessageType string

const (
	TypeLocation       MessageType = "location"
	TypeStatus         MessageType = "status"
	TypeBookingRequest MessageType = "booking_request"
	TypeJoined         MessageType = "joined"
	TypeLeft           MessageType = "left"
	TypeError          MessageType = "error"
)

// Message is the envelope pushed to subscribers.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	BookingID types.ID        `json:"booking_id,omitempty"`
	Point     *types.Point    `json:"point,omitempty"`
	Status    booking.Status  `json:"status,omitempty"`
	Request   *BookingSummary `json:"request,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// BookingSummary is what a driver sees in a new-request notification.
type BookingSummary struct {
	ID           types.ID           `json:"id"`
	Pickup       types.Place        `json:"pickup"`
	Dropoff      types.Place        `json:"dropoff"`
	VehicleClass types.VehicleClass `json:"vehicle_class"`
	DistanceKm   float64            `json:"distance_km"`
	Price        float64            `json:"price"`
	ScheduledAt  *time.Time         `json:"scheduled_at,omitempty"`
}

func Summarize(b booking.Booking) BookingSummary {
	return BookingSummary{
		ID:           b.ID,
		Pickup:       b.Pickup,
		Dropoff:      b.Dropoff,
		VehicleClass: b.VehicleClass,
		DistanceKm:   b.DistanceKm,
		Price:        b.Price,
		ScheduledAt:  b.ScheduledAt,
	}
}

const (
	bookingChannelPrefix = "booking:"
	driverChannelPrefix  = "driver:"
)

func BookingChannel(id types.ID) string { return bookingChannelPrefix + string(id) }
func DriverChannel(id types.ID) string  { return driverChannelPrefix + string(id) }
