// README: Match candidates scored by planar proximity to the pickup point.
package matching

import (
	"time"

	"haul/internal/modules/actor"
	"haul/internal/types"
)

// Candidate is a located, eligible driver with its proximity score.
type Candidate struct {
	Driver      actor.Driver
	Position    types.Point
	Proximity   float64
	LocationAge time.Duration
}

func eligible(d actor.Driver, class types.VehicleClass) bool {
	return d.Role == actor.RoleDriver && d.Availability && d.Vehicle != nil && d.Vehicle.Class == class
}
