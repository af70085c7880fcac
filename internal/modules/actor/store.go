// README: Actor store backed by PostgreSQL.
package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"haul/internal/types"
)

const driverColumns = `
	a.id, a.name, a.email, a.role, a.vehicle_id, a.availability, a.rating, a.trip_count, a.created_at,
	v.id, v.vehicle_class, v.plate, v.model, v.created_at`

const vehicleColumns = `id, owner_id, vehicle_class, plate, model, created_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, a *Actor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO actors (id, name, email, role, availability, rating, trip_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(a.ID), a.Name, a.Email, string(a.Role), a.Availability, a.Rating, a.TripCount, a.CreatedAt,
	)
	return mapWriteErr(err)
}

// CreateDriver inserts the driver, their vehicle and the link between them in one transaction.
func (s *Store) CreateDriver(ctx context.Context, a *Actor, v *Vehicle) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO actors (id, name, email, role, availability, rating, trip_count, created_at)
			VALUES ($1, $2, $3, 'driver', $4, $5, $6, $7)`,
			string(a.ID), a.Name, a.Email, a.Availability, a.Rating, a.TripCount, a.CreatedAt,
		); err != nil {
			return mapWriteErr(err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO vehicles (id, owner_id, vehicle_class, plate, model, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(v.ID), string(a.ID), string(v.Class), v.Plate, v.Model, v.CreatedAt,
		); err != nil {
			return mapWriteErr(err)
		}
		_, err := tx.Exec(ctx, `UPDATE actors SET vehicle_id = $1 WHERE id = $2`, string(v.ID), string(a.ID))
		return err
	})
}

func (s *Store) GetActor(ctx context.Context, id types.ID) (*Actor, error) {
	var a Actor
	var vehicleID *string
	err := s.db.QueryRow(ctx, `
		SELECT id, name, email, role, vehicle_id, availability, rating, trip_count, created_at
		FROM actors WHERE id = $1`, string(id),
	).Scan(&a.ID, &a.Name, &a.Email, &a.Role, &vehicleID, &a.Availability, &a.Rating, &a.TripCount, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if vehicleID != nil {
		vid := types.ID(*vehicleID)
		a.VehicleID = &vid
	}
	return &a, nil
}

func (s *Store) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+driverColumns+`
		FROM actors a
		LEFT JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.id = $1 AND a.role = 'driver'`, string(id),
	)
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListAvailableDrivers returns available drivers operating a vehicle of the
// given class, in a stable order.
func (s *Store) ListAvailableDrivers(ctx context.Context, class types.VehicleClass) ([]Driver, error) {
	return s.queryDrivers(ctx, `
		SELECT `+driverColumns+`
		FROM actors a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.role = 'driver' AND a.availability AND v.vehicle_class = $1
		ORDER BY a.created_at, a.id`, string(class))
}

func (s *Store) ListDrivers(ctx context.Context) ([]Driver, error) {
	return s.queryDrivers(ctx, `
		SELECT `+driverColumns+`
		FROM actors a
		LEFT JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.role = 'driver'
		ORDER BY a.created_at, a.id`)
}

func (s *Store) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	rows, err := s.db.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *Store) GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error) {
	v, err := scanVehicle(s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	return v, err
}

// Reserve flips an available driver to unavailable. ok is false when the
// driver was already taken.
func (s *Store) Reserve(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE actors SET availability = FALSE
		WHERE id = $1 AND role = 'driver' AND availability = TRUE`, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetAvailability(ctx context.Context, id types.ID, available bool) error {
	return s.execOne(ctx, `UPDATE actors SET availability = $1 WHERE id = $2 AND role = 'driver'`, available, string(id))
}

func (s *Store) SetRating(ctx context.Context, id types.ID, rating float64) error {
	return s.execOne(ctx, `UPDATE actors SET rating = $1 WHERE id = $2 AND role = 'driver'`, rating, string(id))
}

func (s *Store) AverageDriverRating(ctx context.Context) (float64, error) {
	var avg *float64
	if err := s.db.QueryRow(ctx, `SELECT AVG(rating) FROM actors WHERE role = 'driver'`).Scan(&avg); err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryDrivers(ctx context.Context, sql string, args ...any) ([]Driver, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var vehicleID, vID, vClass, vPlate, vModel *string
	var vCreated *time.Time
	err := row.Scan(
		&d.ID, &d.Name, &d.Email, &d.Role, &vehicleID, &d.Availability, &d.Rating, &d.TripCount, &d.CreatedAt,
		&vID, &vClass, &vPlate, &vModel, &vCreated,
	)
	if err != nil {
		return nil, err
	}
	if vehicleID != nil {
		id := types.ID(*vehicleID)
		d.VehicleID = &id
	}
	if vID != nil {
		d.Vehicle = &Vehicle{
			ID:      types.ID(*vID),
			OwnerID: d.ID,
			Class:   types.VehicleClass(deref(vClass)),
			Plate:   deref(vPlate),
			Model:   deref(vModel),
		}
		if vCreated != nil {
			d.Vehicle.CreatedAt = *vCreated
		}
	}
	return &d, nil
}

func scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	if err := row.Scan(&v.ID, &v.OwnerID, &v.Class, &v.Plate, &v.Model, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
