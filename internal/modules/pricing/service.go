// README: Pricing engine: base fare plus per-km rate, scaled by demand surge.
package pricing

import (
	"context"
	"errors"
	"math"

	"haul/internal/types"
)

var (
	ErrInvalidVehicleClass = errors.New("invalid vehicle type")
	ErrInvalidDistance     = errors.New("invalid distance")
)

// PendingCounter reports how many bookings are currently waiting for a driver.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// SurgeMultiplier steps up with the number of pending bookings system-wide.
func SurgeMultiplier(pending int) float64 {
	switch {
	case pending > 50:
		return 1.5
	case pending > 20:
		return 1.3
	default:
		return 1.0
	}
}

// Calculate is pure: the same inputs always give the same quote.
func Calculate(class types.VehicleClass, distanceKm float64, pending int) (Quote, error) {
	rate, ok := perKmRate[class]
	if !ok {
		return Quote{}, ErrInvalidVehicleClass
	}
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return Quote{}, ErrInvalidDistance
	}
	surge := SurgeMultiplier(pending)
	return Quote{
		VehicleClass: class,
		DistanceKm:   distanceKm,
		BaseFare:     BaseFare,
		PerKm:        rate,
		Surge:        surge,
		Total:        (BaseFare + rate*distanceKm) * surge,
	}, nil
}

type Service struct {
	pending PendingCounter
}

func NewService(pending PendingCounter) *Service {
	return &Service{pending: pending}
}

// Estimate quotes a trip before a booking exists. It reads the current load
// but writes nothing; without a counter no surge is applied.
func (s *Service) Estimate(ctx context.Context, class types.VehicleClass, distanceKm float64) (Quote, error) {
	pending := 0
	if s.pending != nil {
		n, err := s.pending.CountPending(ctx)
		if err != nil {
			return Quote{}, err
		}
		pending = n
	}
	return Calculate(class, distanceKm, pending)
}
