// README: Fare table and quote breakdown.
package pricing

import "haul/internal/types"

const BaseFare = 50.0

// perKmRate is shared by committed prices and estimates so a quote never
// diverges from the charge.
var perKmRate = map[types.VehicleClass]float64{
	types.VehicleTruck: 20,
	types.VehicleCar:   10,
	types.VehicleBike:  5,
}

type Quote struct {
	VehicleClass types.VehicleClass `json:"vehicle_class"`
	DistanceKm   float64            `json:"distance_km"`
	BaseFare     float64            `json:"base_fare"`
	PerKm        float64            `json:"per_km"`
	Surge        float64            `json:"surge_multiplier"`
	Total        float64            `json:"total"`
}
