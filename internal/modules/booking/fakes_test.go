package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"haul/internal/logging"
	"haul/internal/modules/actor"
	"haul/internal/modules/location"
	"haul/internal/modules/pricing"
	"haul/internal/types"
)

// memStore is an in-memory Repository whose conditional updates hold one
// mutex, mirroring the single-row atomicity of the SQL store. Driver effects
// go to drivers under the same lock, like the SQL transaction.
type memStore struct {
	mu       sync.Mutex
	bookings map[types.ID]Booking
	events   []Event
	failGet  map[types.ID]error
	failMove map[types.ID]error
	drivers  *fakeDrivers
}

func newMemStore() *memStore {
	return &memStore{
		bookings: make(map[types.ID]Booking),
		failGet:  make(map[types.ID]error),
		failMove: make(map[types.ID]error),
	}
}

func (m *memStore) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = *b
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[id]; err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *memStore) filter(keep func(Booking) bool, less func(a, b Booking) bool) []Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func oldestFirst(a, b Booking) bool { return a.CreatedAt.Before(b.CreatedAt) }

func (m *memStore) ListByRequester(_ context.Context, requesterID types.ID) ([]Booking, error) {
	return m.filter(func(b Booking) bool { return b.RequesterID == requesterID },
		func(a, b Booking) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

func (m *memStore) ListByStatus(_ context.Context, status Status) ([]Booking, error) {
	return m.filter(func(b Booking) bool { return b.Status == status }, oldestFirst), nil
}

func (m *memStore) ListAll(_ context.Context, limit int) ([]Booking, error) {
	out := m.filter(func(Booking) bool { return true }, oldestFirst)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListDueScheduled(_ context.Context, now time.Time) ([]Booking, error) {
	return m.filter(func(b Booking) bool {
		return b.Status == StatusScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now)
	}, oldestFirst), nil
}

func (m *memStore) ListUpcoming(_ context.Context, after, until time.Time) ([]Booking, error) {
	return m.filter(func(b Booking) bool {
		return b.Status == StatusScheduled && b.ScheduledAt != nil && b.ScheduledAt.After(after) && !b.ScheduledAt.After(until)
	}, oldestFirst), nil
}

func (m *memStore) CountPending(ctx context.Context) (int, error) {
	counts, _ := m.CountByStatus(ctx)
	return counts[StatusPending], nil
}

func (m *memStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, b := range m.bookings {
		out[b.Status]++
	}
	return out, nil
}

func (m *memStore) Accept(_ context.Context, id, driverID types.ID, vehicle AssignedVehicle, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != StatusPending || b.VehicleClass != vehicle.Class {
		return false, nil
	}
	b.Status = StatusAccepted
	b.StatusVersion++
	b.DriverID = &driverID
	b.VehicleID = &vehicle.ID
	b.AcceptedAt = &at
	m.bookings[id] = b
	return true, nil
}

func (m *memStore) Transition(_ context.Context, id types.ID, from, to Status, version int, at time.Time, effect DriverEffect) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failMove[id]; err != nil {
		return false, err
	}
	b, ok := m.bookings[id]
	if !ok || b.Status != from || b.StatusVersion != version {
		return false, nil
	}
	if effect != DriverUnchanged && b.DriverID != nil && m.drivers != nil {
		if err := m.drivers.settle(*b.DriverID, effect == DriverCredited); err != nil {
			return false, err
		}
	}
	b.Status = to
	b.StatusVersion++
	switch to {
	case StatusInProgress:
		b.StartedAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusCancelled:
		b.CancelledAt = &at
	}
	m.bookings[id] = b
	return true, nil
}

func (m *memStore) SetRating(_ context.Context, id types.ID, rating int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != StatusCompleted || b.Rating != nil {
		return false, nil
	}
	b.Rating = &rating
	m.bookings[id] = b
	return true, nil
}

func (m *memStore) DriverPerformance(_ context.Context, driverID types.ID) (Performance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Performance{DriverID: driverID}
	sum := 0
	for _, b := range m.bookings {
		if !b.IsAssignedDriver(driverID) {
			continue
		}
		p.TotalRides++
		if b.Status != StatusCompleted {
			continue
		}
		p.CompletedRides++
		if b.Rating != nil {
			p.RatedRides++
			sum += *b.Rating
		}
	}
	if p.RatedRides > 0 {
		avg := float64(sum) / float64(p.RatedRides)
		p.AverageRating = &avg
	}
	return p, nil
}

func (m *memStore) AverageTripMinutes(_ context.Context) (*float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total time.Duration
	n := 0
	for _, b := range m.bookings {
		if b.Status != StatusCompleted || b.StartedAt == nil || b.CompletedAt == nil {
			continue
		}
		total += b.CompletedAt.Sub(*b.StartedAt)
		n++
	}
	if n == 0 {
		return nil, nil
	}
	avg := total.Minutes() / float64(n)
	return &avg, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, bookingID types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) put(b Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
}

type fakeDrivers struct {
	mu         sync.Mutex
	drivers    map[types.ID]*actor.Driver
	failSettle error
}

func newFakeDrivers(ds ...actor.Driver) *fakeDrivers {
	f := &fakeDrivers{drivers: make(map[types.ID]*actor.Driver)}
	for i := range ds {
		d := ds[i]
		f.drivers[d.ID] = &d
	}
	return f
}

func (f *fakeDrivers) GetDriver(_ context.Context, id types.ID) (*actor.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return nil, actor.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDrivers) Reserve(_ context.Context, id types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return false, actor.ErrNotFound
	}
	if !d.Availability {
		return false, nil
	}
	d.Availability = false
	return true, nil
}

func (f *fakeDrivers) SetAvailability(_ context.Context, id types.ID, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return actor.ErrNotFound
	}
	d.Availability = available
	return nil
}

// settle is the driver half of a transition: release, and credit a trip when
// the booking completed.
func (f *fakeDrivers) settle(id types.ID, credit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSettle != nil {
		return f.failSettle
	}
	d, ok := f.drivers[id]
	if !ok {
		return ErrDriverNotFound
	}
	if credit {
		d.TripCount++
	}
	d.Availability = true
	return nil
}

func (f *fakeDrivers) setFailSettle(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSettle = err
}

func (f *fakeDrivers) SetRating(_ context.Context, id types.ID, rating float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return actor.ErrNotFound
	}
	d.Rating = rating
	return nil
}

func (f *fakeDrivers) get(id types.ID) actor.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.drivers[id]
}

type fixedDistance struct {
	km  float64
	err error
}

func (f fixedDistance) DistanceKm(context.Context, types.Place, types.Place) (float64, error) {
	return f.km, f.err
}

type fakeLocator map[types.ID]types.Point

func (f fakeLocator) DriverLocation(_ context.Context, id types.ID) (location.Fix, bool, error) {
	p, ok := f[id]
	return location.Fix{Point: p}, ok, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (r *recordingEmitter) Emit(e DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.To)
	}
	return out
}

var errBoom = errors.New("boom")

func testDriver(id string, class types.VehicleClass) actor.Driver {
	vid := types.ID("veh_" + id)
	return actor.Driver{
		Actor: actor.Actor{
			ID: types.ID(id), Name: id, Role: actor.RoleDriver, VehicleID: &vid,
			Availability: true, Rating: actor.DefaultRating,
		},
		Vehicle: &actor.Vehicle{ID: vid, OwnerID: types.ID(id), Class: class, Plate: "P-" + id},
	}
}

type testEnv struct {
	svc     *Service
	store   *memStore
	drivers *fakeDrivers
	events  *recordingEmitter
	clock   *time.Time
}

func newTestEnv(km float64, drivers ...actor.Driver) *testEnv {
	store := newMemStore()
	fd := newFakeDrivers(drivers...)
	store.drivers = fd
	em := &recordingEmitter{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(Deps{
		Store:          store,
		Drivers:        fd,
		Distance:       fixedDistance{km: km},
		Pricer:         pricing.NewService(store),
		Locator:        fakeLocator{},
		Events:         em,
		Log:            logging.Discard(),
		DriverSpeedKmh: 30,
	})
	env := &testEnv{svc: svc, store: store, drivers: fd, events: em, clock: &now}
	svc.now = func() time.Time { return *env.clock }
	return env
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

var (
	customer = Caller{ID: "cust_1", Role: actor.RoleUser}
	admin    = Caller{ID: "admin_1", Role: actor.RoleAdmin}
)

func truckCommand() CreateCommand {
	return CreateCommand{
		RequesterID:  customer.ID,
		Pickup:       types.Place{Label: "Whitefield warehouse", Point: types.Point{Lat: 12.9698, Lng: 77.7500}},
		Dropoff:      types.Place{Label: "Koramangala store", Point: types.Point{Lat: 12.9352, Lng: 77.6245}},
		VehicleClass: types.VehicleTruck,
	}
}
