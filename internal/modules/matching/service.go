// README: Matching service picks the nearest available driver for a vehicle class.
package matching

import (
	"context"
	"fmt"

	"haul/internal/modules/actor"
	"haul/internal/modules/location"
	"haul/internal/observability"
	"haul/internal/types"
)

type DriverSource interface {
	ListAvailableDrivers(ctx context.Context, class types.VehicleClass) ([]actor.Driver, error)
}

type Locator interface {
	DriverLocation(ctx context.Context, driverID types.ID) (location.Fix, bool, error)
}

type Service struct {
	drivers DriverSource
	locator Locator
}

func NewService(drivers DriverSource, locator Locator) *Service {
	return &Service{drivers: drivers, locator: locator}
}

// FindBestDriver returns the eligible driver closest to pickup. ok is false when
// nobody qualifies, which callers must treat as "leave the booking pending".
// It only reads, so concurrent calls may return the same driver; the accept
// compare-and-swap settles who actually gets the booking.
func (s *Service) FindBestDriver(ctx context.Context, class types.VehicleClass, pickup types.Point) (*Candidate, bool, error) {
	drivers, err := s.drivers.ListAvailableDrivers(ctx, class)
	if err != nil {
		return nil, false, fmt.Errorf("list drivers: %w", err)
	}

	var best *Candidate
	for _, d := range drivers {
		if !eligible(d, class) {
			continue
		}
		fix, ok, err := s.locator.DriverLocation(ctx, d.ID)
		if err != nil {
			return nil, false, fmt.Errorf("locate driver %s: %w", d.ID, err)
		}
		if !ok {
			continue
		}
		proximity := types.PlanarDistance(pickup, fix.Point)
		if best == nil || proximity < best.Proximity {
			best = &Candidate{Driver: d, Position: fix.Point, Proximity: proximity, LocationAge: fix.Age}
		}
	}

	if best == nil {
		observability.MatchAttempts.WithLabelValues("none").Inc()
		return nil, false, nil
	}
	observability.MatchAttempts.WithLabelValues("matched").Inc()
	return best, true, nil
}
