// README: Location service validates updates and maps actors/bookings onto store keys.
package location

import (
	"context"
	"errors"
	"fmt"

	"haul/internal/types"
)

var (
	ErrInvalidPoint = errors.New("invalid coordinates")
	ErrUnavailable  = errors.New("location store unavailable")
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) UpdateDriver(ctx context.Context, driverID types.ID, p types.Point) error {
	if driverID == "" || !p.Valid() {
		return ErrInvalidPoint
	}
	if err := s.store.Set(ctx, DriverKey(driverID), p); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateBooking records the latest position for a trip and appends it to the trail.
func (s *Service) UpdateBooking(ctx context.Context, bookingID types.ID, p types.Point) error {
	if bookingID == "" || !p.Valid() {
		return ErrInvalidPoint
	}
	if err := s.store.Set(ctx, BookingKey(bookingID), p); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.store.AppendTrail(ctx, bookingID, p); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Service) DriverLocation(ctx context.Context, driverID types.ID) (Fix, bool, error) {
	return s.store.Get(ctx, DriverKey(driverID))
}

func (s *Service) BookingLocation(ctx context.Context, bookingID types.ID) (Fix, bool, error) {
	return s.store.Get(ctx, BookingKey(bookingID))
}

func (s *Service) Trail(ctx context.Context, bookingID types.ID) ([]Record, error) {
	return s.store.Trail(ctx, bookingID)
}
