// README: Booking service implements the state machine, pricing on create and driver side effects.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"haul/internal/modules/actor"
	"haul/internal/modules/location"
	"haul/internal/modules/pricing"
	"haul/internal/observability"
	"haul/internal/types"
)

var (
	ErrBadRequest          = errors.New("bad request")
	ErrInvalidVehicleClass = errors.New("invalid vehicle type")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrNotFound            = errors.New("booking not found")
	ErrDriverNotFound      = errors.New("driver not found")
	ErrUnavailable         = errors.New("booking no longer available")
	ErrAlreadyRated        = errors.New("booking already rated")
	ErrNotCompleted        = errors.New("booking is not completed")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrNoVehicle           = errors.New("driver has no vehicle assigned")
	ErrDriverBusy          = errors.New("driver is not available")
	ErrForbidden           = errors.New("forbidden")
	ErrDistanceLookup      = errors.New("distance lookup failed")
	ErrVehicleMismatch     = errors.New("driver vehicle does not match requested class")
)

// Repository is the persistence the state machine needs. *Store implements it.
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListByRequester(ctx context.Context, requesterID types.ID) ([]Booking, error)
	ListByStatus(ctx context.Context, status Status) ([]Booking, error)
	ListAll(ctx context.Context, limit int) ([]Booking, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]Booking, error)
	ListUpcoming(ctx context.Context, after, until time.Time) ([]Booking, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	Accept(ctx context.Context, id, driverID types.ID, vehicle AssignedVehicle, at time.Time) (bool, error)
	Transition(ctx context.Context, id types.ID, from, to Status, version int, at time.Time, effect DriverEffect) (bool, error)
	SetRating(ctx context.Context, id types.ID, rating int) (bool, error)
	DriverPerformance(ctx context.Context, driverID types.ID) (Performance, error)
	AverageTripMinutes(ctx context.Context) (*float64, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, bookingID types.ID) ([]Event, error)
}

// Drivers is the slice of the actor store the state machine reads and writes.
type Drivers interface {
	GetDriver(ctx context.Context, id types.ID) (*actor.Driver, error)
	Reserve(ctx context.Context, id types.ID) (bool, error)
	SetAvailability(ctx context.Context, id types.ID, available bool) error
	SetRating(ctx context.Context, id types.ID, rating float64) error
}

type Distance interface {
	DistanceKm(ctx context.Context, from, to types.Place) (float64, error)
}

type Pricer interface {
	Estimate(ctx context.Context, class types.VehicleClass, distanceKm float64) (pricing.Quote, error)
}

type Locator interface {
	DriverLocation(ctx context.Context, driverID types.ID) (location.Fix, bool, error)
}

type Deps struct {
	Store    Repository
	Drivers  Drivers
	Distance Distance
	Pricer   Pricer
	Locator  Locator
	Events   Emitter
	Log      *slog.Logger
	// DriverSpeedKmh converts pickup distance into an ETA on accept.
	DriverSpeedKmh float64
}

type Service struct {
	store    Repository
	drivers  Drivers
	distance Distance
	pricer   Pricer
	locator  Locator
	events   Emitter
	log      *slog.Logger
	speedKmh float64
	now      func() time.Time

	ratingMu    sync.Mutex
	ratingLocks map[types.ID]*driverLock
}

type driverLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		drivers:     d.Drivers,
		distance:    d.Distance,
		pricer:      d.Pricer,
		locator:     d.Locator,
		events:      d.Events,
		log:         d.Log,
		speedKmh:    d.DriverSpeedKmh,
		now:         time.Now,
		ratingLocks: make(map[types.ID]*driverLock),
	}
	if s.events == nil {
		s.events = nopEmitter{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Caller is the authenticated actor on whose behalf an operation runs.
type Caller struct {
	ID   types.ID
	Role actor.Role
}

type CreateCommand struct {
	RequesterID  types.ID
	Pickup       types.Place
	Dropoff      types.Place
	VehicleClass types.VehicleClass
	ScheduledAt  *time.Time
}

func (c *CreateCommand) Validate() error {
	c.Pickup.Label = strings.TrimSpace(c.Pickup.Label)
	c.Dropoff.Label = strings.TrimSpace(c.Dropoff.Label)
	if c.RequesterID == "" || c.Pickup.Label == "" || c.Dropoff.Label == "" {
		return ErrBadRequest
	}
	if !c.Pickup.Point.Valid() || !c.Dropoff.Point.Valid() {
		return ErrBadRequest
	}
	if !c.VehicleClass.Valid() {
		return ErrInvalidVehicleClass
	}
	return nil
}

type AcceptCommand struct {
	BookingID types.ID
	DriverID  types.ID
}

type AcceptResult struct {
	Booking *Booking `json:"booking"`
	// ETAMinutes is nil when the driver's position is unknown.
	ETAMinutes *float64 `json:"eta_minutes,omitempty"`
}

type UpdateStatusCommand struct {
	BookingID types.ID
	Caller    Caller
	Status    Status
}

type CancelCommand struct {
	BookingID types.ID
	Caller    Caller
}

type RateCommand struct {
	BookingID types.ID
	Caller    Caller
	Rating    int
}

type RateResult struct {
	Booking      *Booking `json:"booking"`
	DriverRating float64  `json:"driver_rating"`
}

// Create prices the booking and persists it as pending, or scheduled when
// ScheduledAt lies in the future. Nothing is stored if pricing inputs fail.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	km, err := s.distance.DistanceKm(ctx, cmd.Pickup, cmd.Dropoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDistanceLookup, err)
	}
	quote, err := s.pricer.Estimate(ctx, cmd.VehicleClass, km)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidVehicleClass) {
			return nil, ErrInvalidVehicleClass
		}
		if errors.Is(err, pricing.ErrInvalidDistance) {
			return nil, fmt.Errorf("%w: %v", ErrDistanceLookup, err)
		}
		return nil, fmt.Errorf("price booking: %w", err)
	}

	now := s.now().UTC()
	b := &Booking{
		ID:           types.NewID(),
		RequesterID:  cmd.RequesterID,
		Pickup:       cmd.Pickup,
		Dropoff:      cmd.Dropoff,
		VehicleClass: cmd.VehicleClass,
		DistanceKm:   quote.DistanceKm,
		Price:        quote.Total,
		Status:       StatusPending,
		CreatedAt:    now,
	}
	if cmd.ScheduledAt != nil && cmd.ScheduledAt.After(now) {
		at := cmd.ScheduledAt.UTC()
		b.ScheduledAt = &at
		b.Status = StatusScheduled
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	observability.BookingsCreated.WithLabelValues(string(b.VehicleClass), string(b.Status)).Inc()

	s.record(ctx, b.ID, StatusNone, b.Status, &cmd.RequesterID, now)
	s.events.Emit(DomainEvent{Kind: EventCreated, Booking: *b, From: StatusNone, To: b.Status, ActorID: &cmd.RequesterID, At: now})
	return b, nil
}

// Get returns a booking visible to its parties and admins. Drivers may also
// view bookings that are still open for acceptance.
func (s *Service) Get(ctx context.Context, id types.ID, caller Caller) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(b, caller) {
		return nil, ErrForbidden
	}
	return b, nil
}

func canView(b *Booking, caller Caller) bool {
	switch {
	case caller.Role == actor.RoleAdmin:
		return true
	case b.IsParty(caller.ID):
		return true
	case caller.Role == actor.RoleDriver && b.Status == StatusPending:
		return true
	}
	return false
}

func (s *Service) ListMine(ctx context.Context, requesterID types.ID) ([]Booking, error) {
	return s.store.ListByRequester(ctx, requesterID)
}

func (s *Service) ListPending(ctx context.Context) ([]Booking, error) {
	return s.store.ListByStatus(ctx, StatusPending)
}

func (s *Service) ListAll(ctx context.Context, limit int) ([]Booking, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListAll(ctx, limit)
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.store.CountByStatus(ctx)
}

func (s *Service) DriverPerformance(ctx context.Context, driverID types.ID) (Performance, error) {
	return s.store.DriverPerformance(ctx, driverID)
}

func (s *Service) AverageTripMinutes(ctx context.Context) (*float64, error) {
	return s.store.AverageTripMinutes(ctx)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// Accept claims a pending booking for the driver. The driver's vehicle must be
// of the requested class. Concurrent accepts on the same booking resolve in
// the store; losers get ErrUnavailable.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*AcceptResult, error) {
	if cmd.BookingID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	d, err := s.drivers.GetDriver(ctx, cmd.DriverID)
	if errors.Is(err, actor.ErrNotFound) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.Role != actor.RoleDriver {
		return nil, ErrForbidden
	}
	if d.Vehicle == nil {
		return nil, ErrNoVehicle
	}
	if !d.Availability {
		return nil, ErrDriverBusy
	}
	current, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if current.VehicleClass != d.Vehicle.Class {
		return nil, ErrVehicleMismatch
	}
	if current.Status != StatusPending {
		return nil, ErrUnavailable
	}

	// The driver is reserved before the booking is claimed so that a cancel
	// racing this accept can only ever release a reservation that exists.
	reserved, err := s.drivers.Reserve(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDriverBusy
	}

	now := s.now().UTC()
	vehicle := AssignedVehicle{ID: d.Vehicle.ID, Class: d.Vehicle.Class}
	ok, err := s.store.Accept(ctx, cmd.BookingID, d.ID, vehicle, now)
	if err != nil || !ok {
		if rerr := s.drivers.SetAvailability(ctx, d.ID, true); rerr != nil {
			s.log.Error("release driver after failed accept", "driver_id", d.ID, "booking_id", cmd.BookingID, "err", rerr)
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.store.Get(ctx, cmd.BookingID); err != nil {
			return nil, err
		}
		observability.AcceptConflicts.Inc()
		return nil, ErrUnavailable
	}
	observability.BookingTransitions.WithLabelValues(string(StatusPending), string(StatusAccepted)).Inc()

	s.record(ctx, cmd.BookingID, StatusPending, StatusAccepted, &d.ID, now)

	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	s.events.Emit(DomainEvent{Kind: EventStatusChanged, Booking: *b, From: StatusPending, To: StatusAccepted, ActorID: &d.ID, At: now})

	return &AcceptResult{Booking: b, ETAMinutes: s.eta(ctx, d.ID, b.Pickup.Point)}, nil
}

func (s *Service) eta(ctx context.Context, driverID types.ID, pickup types.Point) *float64 {
	if s.locator == nil || s.speedKmh <= 0 {
		return nil
	}
	fix, ok, err := s.locator.DriverLocation(ctx, driverID)
	if err != nil {
		s.log.Warn("eta location lookup failed", "driver_id", driverID, "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	minutes := types.HaversineKm(fix.Point, pickup) / s.speedKmh * 60
	return &minutes
}

// UpdateStatus advances an accepted booking. Only the assigned driver may do
// so; cancellation goes through Cancel and acceptance through Accept.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*Booking, error) {
	if !cmd.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if cmd.Status == StatusCancelled {
		return s.Cancel(ctx, CancelCommand{BookingID: cmd.BookingID, Caller: cmd.Caller})
	}

	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsAssignedDriver(cmd.Caller.ID) {
		return nil, ErrForbidden
	}
	if cmd.Status == StatusAccepted || !CanTransition(b.Status, cmd.Status) {
		return nil, ErrInvalidState
	}

	effect := DriverUnchanged
	if cmd.Status == StatusCompleted {
		effect = DriverCredited
	}
	if err := s.transition(ctx, b, cmd.Status, &cmd.Caller.ID, effect); err != nil {
		return nil, err
	}
	return b, nil
}

// Cancel is open to either party and to admins from any
// non-terminal state. An assigned driver is released without trip credit.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if cmd.Caller.Role != actor.RoleAdmin && !b.IsParty(cmd.Caller.ID) {
		return nil, ErrForbidden
	}
	if !CanTransition(b.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}

	effect := DriverUnchanged
	if b.DriverID != nil && (b.Status == StatusAccepted || b.Status == StatusInProgress) {
		effect = DriverReleased
	}
	if err := s.transition(ctx, b, StatusCancelled, &cmd.Caller.ID, effect); err != nil {
		return nil, err
	}
	return b, nil
}

// transition applies the conditional update, together with effect on the
// assigned driver, and mutates b to the new state.
func (s *Service) transition(ctx context.Context, b *Booking, to Status, actorID *types.ID, effect DriverEffect) error {
	from := b.Status
	now := s.now().UTC()
	ok, err := s.store.Transition(ctx, b.ID, from, to, b.StatusVersion, now, effect)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	observability.BookingTransitions.WithLabelValues(string(from), string(to)).Inc()

	b.Status = to
	b.StatusVersion++
	switch to {
	case StatusInProgress:
		b.StartedAt = &now
	case StatusCompleted:
		b.CompletedAt = &now
	case StatusCancelled:
		b.CancelledAt = &now
	}
	s.record(ctx, b.ID, from, to, actorID, now)
	s.events.Emit(DomainEvent{Kind: EventStatusChanged, Booking: *b, From: from, To: to, ActorID: actorID, At: now})
	return nil
}

// Rate stores the requester's rating on a completed booking and recomputes the
// driver's average over every completed, rated booking. Ratings for the same
// driver are serialized so the average is never computed from a stale read.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*RateResult, error) {
	if cmd.Rating < MinRating || cmd.Rating > MaxRating {
		return nil, ErrInvalidRating
	}
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.RequesterID != cmd.Caller.ID {
		return nil, ErrForbidden
	}
	if b.Status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	if b.Rating != nil {
		return nil, ErrAlreadyRated
	}
	if b.DriverID == nil {
		return nil, ErrInvalidState
	}
	driverID := *b.DriverID

	unlock := s.lockDriver(driverID)
	defer unlock()

	ok, err := s.store.SetRating(ctx, b.ID, cmd.Rating)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}
	rating := cmd.Rating
	b.Rating = &rating

	perf, err := s.store.DriverPerformance(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("driver rating average: %w", err)
	}
	avg := float64(rating)
	if perf.AverageRating != nil {
		avg = *perf.AverageRating
	}
	if err := s.drivers.SetRating(ctx, driverID, avg); err != nil {
		return nil, fmt.Errorf("save driver rating: %w", err)
	}
	return &RateResult{Booking: b, DriverRating: avg}, nil
}

func (s *Service) lockDriver(id types.ID) func() {
	s.ratingMu.Lock()
	l, ok := s.ratingLocks[id]
	if !ok {
		l = &driverLock{}
		s.ratingLocks[id] = l
	}
	l.refs++
	s.ratingMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.ratingMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.ratingLocks, id)
		}
		s.ratingMu.Unlock()
	}
}

// record appends to the status history. The history is advisory, so failures
// are logged and otherwise ignored.
func (s *Service) record(ctx context.Context, id types.ID, from, to Status, actorID *types.ID, at time.Time) {
	if err := s.store.AppendEvent(ctx, &Event{BookingID: id, FromStatus: from, ToStatus: to, ActorID: actorID, CreatedAt: at}); err != nil {
		s.log.Warn("append booking event", "booking_id", id, "from", from, "to", to, "err", err)
	}
}
