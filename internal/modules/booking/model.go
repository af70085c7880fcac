// README: Booking aggregate, status definitions and the allowed state flow.
package booking

import (
	"time"

	"haul/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusScheduled  Status = "scheduled"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const (
	MinRating = 1
	MaxRating = 5
)

type Booking struct {
	ID            types.ID           `json:"id"`
	RequesterID   types.ID           `json:"requester_id"`
	DriverID      *types.ID          `json:"driver_id,omitempty"`
	VehicleID     *types.ID          `json:"vehicle_id,omitempty"`
	Pickup        types.Place        `json:"pickup"`
	Dropoff       types.Place        `json:"dropoff"`
	VehicleClass  types.VehicleClass `json:"vehicle_class"`
	DistanceKm    float64            `json:"distance_km"`
	Price         float64            `json:"price"`
	Status        Status             `json:"status"`
	StatusVersion int                `json:"status_version"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
	Rating        *int               `json:"rating,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	AcceptedAt    *time.Time         `json:"accepted_at,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
}

// IsParty reports whether id is the requester or the assigned driver.
func (b *Booking) IsParty(id types.ID) bool {
	return b.RequesterID == id || b.IsAssignedDriver(id)
}

func (b *Booking) IsAssignedDriver(id types.ID) bool {
	return b.DriverID != nil && *b.DriverID == id
}

// AssignedVehicle is the vehicle a driver brings to an accepted booking.
type AssignedVehicle struct {
	ID    types.ID
	Class types.VehicleClass
}

// DriverEffect is applied to the assigned driver in the same transaction as
// a status change, so the booking and the driver never disagree.
type DriverEffect int

const (
	DriverUnchanged DriverEffect = iota
	// DriverReleased makes the driver available again.
	DriverReleased
	// DriverCredited counts a finished trip and makes the driver available.
	DriverCredited
)

type Event struct {
	ID         int64     `json:"id"`
	BookingID  types.ID  `json:"booking_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllowedTransitions represents the booking state flow as code. Accept is the
// only way into accepted and is handled by its own compare-and-swap.
var AllowedTransitions = map[Status][]Status{
	StatusScheduled:  {StatusPending, StatusCancelled},
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Performance summarises a driver's booking history.
type Performance struct {
	DriverID       types.ID `json:"driver_id"`
	TotalRides     int      `json:"total_rides"`
	CompletedRides int      `json:"completed_rides"`
	RatedRides     int      `json:"rated_rides"`
	AverageRating  *float64 `json:"average_rating,omitempty"`
}
