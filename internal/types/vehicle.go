// README: Vehicle class shared by fleet records, bookings, matching and pricing.
package types

type VehicleClass string

const (
	VehicleCar   VehicleClass = "car"
	VehicleTruck VehicleClass = "truck"
	VehicleBike  VehicleClass = "bike"
)

func (c VehicleClass) Valid() bool {
	switch c {
	case VehicleCar, VehicleTruck, VehicleBike:
		return true
	}
	return false
}
