// README: Booking store backed by PostgreSQL; every status change is a conditional update.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"haul/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const bookingColumns = `
	id, requester_id, driver_id, vehicle_id,
	pickup_label, pickup_lat, pickup_lng, dropoff_label, dropoff_lat, dropoff_lng,
	vehicle_class, distance_km, price, status, status_version, scheduled_at, rating,
	created_at, accepted_at, started_at, completed_at, cancelled_at`

func (s *Store) Create(ctx context.Context, b *Booking) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO bookings (
			id, requester_id, driver_id, vehicle_id,
			pickup_label, pickup_lat, pickup_lng, dropoff_label, dropoff_lat, dropoff_lng,
			vehicle_class, distance_km, price, status, status_version, scheduled_at, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17
		)`,
		string(b.ID), string(b.RequesterID), toStringPtr(b.DriverID), toStringPtr(b.VehicleID),
		b.Pickup.Label, b.Pickup.Point.Lat, b.Pickup.Point.Lng,
		b.Dropoff.Label, b.Dropoff.Point.Lat, b.Dropoff.Point.Lng,
		string(b.VehicleClass), b.DistanceKm, b.Price, string(b.Status), b.StatusVersion,
		b.ScheduledAt, b.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *Store) ListByRequester(ctx context.Context, requesterID types.ID) ([]Booking, error) {
	return s.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE requester_id = $1
		ORDER BY created_at DESC, id`, string(requesterID))
}

func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Booking, error) {
	return s.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = $1
		ORDER BY created_at, id`, string(status))
}

func (s *Store) ListAll(ctx context.Context, limit int) ([]Booking, error) {
	return s.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
}

func (s *Store) ListDueScheduled(ctx context.Context, now time.Time) ([]Booking, error) {
	return s.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at, id`, now)
}

func (s *Store) ListUpcoming(ctx context.Context, after, until time.Time) ([]Booking, error) {
	return s.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'scheduled' AND scheduled_at > $1 AND scheduled_at <= $2
		ORDER BY scheduled_at, id`, after, until)
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE status = 'pending'`).Scan(&n)
	return n, err
}

func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Accept assigns driver and vehicle only if the booking is still pending and
// was requested for the vehicle's class. Concurrent callers race on the row;
// exactly one sees ok=true.
func (s *Store) Accept(ctx context.Context, id, driverID types.ID, vehicle AssignedVehicle, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET status = 'accepted',
			status_version = status_version + 1,
			driver_id = $1,
			vehicle_id = $2,
			accepted_at = $3
		WHERE id = $4 AND status = 'pending' AND vehicle_class = $5`,
		string(driverID), string(vehicle.ID), at, string(id), string(vehicle.Class),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const transitionSQL = `
	UPDATE bookings
	SET status = $1,
		status_version = status_version + 1,
		started_at = CASE WHEN $1 = 'in_progress' THEN $2 ELSE started_at END,
		completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END,
		cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2 ELSE cancelled_at END
	WHERE id = $3 AND status = $4 AND status_version = $5`

// Transition moves a booking from one status to another if neither the status
// nor its version changed since it was read. Any driver effect commits or
// rolls back together with the status change.
func (s *Store) Transition(ctx context.Context, id types.ID, from, to Status, version int, at time.Time, effect DriverEffect) (bool, error) {
	args := []any{string(to), at, string(id), string(from), version}
	if effect == DriverUnchanged {
		tag, err := s.db.Exec(ctx, transitionSQL, args...)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	moved := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var driverID *string
		err := tx.QueryRow(ctx, transitionSQL+` RETURNING driver_id`, args...).Scan(&driverID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		moved = true
		if driverID == nil {
			return nil
		}
		credit := 0
		if effect == DriverCredited {
			credit = 1
		}
		tag, err := tx.Exec(ctx, `
			UPDATE actors SET availability = TRUE, trip_count = trip_count + $1
			WHERE id = $2 AND role = 'driver'`, credit, *driverID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrDriverNotFound, *driverID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// SetRating records the rating once, and only on a completed booking.
func (s *Store) SetRating(ctx context.Context, id types.ID, rating int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET rating = $1
		WHERE id = $2 AND status = 'completed' AND rating IS NULL`,
		rating, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DriverPerformance(ctx context.Context, driverID types.ID) (Performance, error) {
	p := Performance{DriverID: driverID}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(rating) FILTER (WHERE status = 'completed'),
			AVG(rating) FILTER (WHERE status = 'completed')
		FROM bookings
		WHERE driver_id = $1`, string(driverID),
	).Scan(&p.TotalRides, &p.CompletedRides, &p.RatedRides, &p.AverageRating)
	return p, err
}

// AverageTripMinutes is the mean pickup-to-dropoff time over completed
// bookings, or nil when none have completed.
func (s *Store) AverageTripMinutes(ctx context.Context) (*float64, error) {
	var avg *float64
	err := s.db.QueryRow(ctx, `
		SELECT (AVG(EXTRACT(EPOCH FROM completed_at - started_at)) / 60)::float8
		FROM bookings
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
	).Scan(&avg)
	return avg, err
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_events (booking_id, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(e.BookingID), string(e.FromStatus), string(e.ToStatus), toStringPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, bookingID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_id, created_at
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.BookingID, &e.FromStatus, &e.ToStatus, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]Booking, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var driverID, vehicleID *string
	var rating *int16
	err := row.Scan(
		&b.ID, &b.RequesterID, &driverID, &vehicleID,
		&b.Pickup.Label, &b.Pickup.Point.Lat, &b.Pickup.Point.Lng,
		&b.Dropoff.Label, &b.Dropoff.Point.Lat, &b.Dropoff.Point.Lng,
		&b.VehicleClass, &b.DistanceKm, &b.Price, &b.Status, &b.StatusVersion, &b.ScheduledAt, &rating,
		&b.CreatedAt, &b.AcceptedAt, &b.StartedAt, &b.CompletedAt, &b.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	b.DriverID = toIDPtr(driverID)
	b.VehicleID = toIDPtr(vehicleID)
	if rating != nil {
		r := int(*rating)
		b.Rating = &r
	}
	return &b, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
