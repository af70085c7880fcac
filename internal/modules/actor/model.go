// README: Actor (customer/driver/admin) and vehicle records.
package actor

import (
	"time"

	"haul/internal/types"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleDriver || r == RoleAdmin
}

const (
	DefaultRating = 5.0
	MinRating     = 1.0
	MaxRating     = 5.0
)

type Actor struct {
	ID           types.ID  `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	VehicleID    *types.ID `json:"vehicle_id,omitempty"`
	Availability bool      `json:"availability"`
	Rating       float64   `json:"rating"`
	TripCount    int       `json:"trip_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type Vehicle struct {
	ID        types.ID           `json:"id"`
	OwnerID   types.ID           `json:"owner_id"`
	Class     types.VehicleClass `json:"vehicle_class"`
	Plate     string             `json:"plate"`
	Model     string             `json:"model"`
	CreatedAt time.Time          `json:"created_at"`
}

// Driver is a driver actor joined with the vehicle they operate, if any.
type Driver struct {
	Actor
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}
