// README: Actor service: self-registration, driver onboarding and read access for dispatch and admin views.
package actor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"haul/internal/types"
)

var (
	ErrNotFound            = errors.New("driver not found")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrDuplicate           = errors.New("actor or vehicle already exists")
	ErrBadRequest          = errors.New("bad request")
	ErrInvalidVehicleClass = errors.New("invalid vehicle type")
	ErrInvalidRole         = errors.New("role must be user or driver")
	ErrRoleGrant           = errors.New("could not record role with identity provider")
)

// Repository is the persistence the service needs. *Store implements it.
type Repository interface {
	Create(ctx context.Context, a *Actor) error
	CreateDriver(ctx context.Context, a *Actor, v *Vehicle) error
	GetActor(ctx context.Context, id types.ID) (*Actor, error)
	GetDriver(ctx context.Context, id types.ID) (*Driver, error)
	ListDrivers(ctx context.Context) ([]Driver, error)
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error)
	AverageDriverRating(ctx context.Context) (float64, error)
}

// RoleGranter records a role with the identity provider. The caller's next
// ID token carries it.
type RoleGranter interface {
	SetRole(ctx context.Context, uid, role string) error
}

type Service struct {
	store Repository
	roles RoleGranter
	now   func() time.Time
}

// NewService builds the service. roles may be nil, in which case roles are
// only stored locally.
func NewService(store Repository, roles RoleGranter) *Service {
	return &Service{store: store, roles: roles, now: time.Now}
}

type RegisterDriverCommand struct {
	// UID links the driver to an existing identity-provider account. A fresh
	// id is generated when empty.
	UID          types.ID
	Name         string
	Email        string
	VehicleClass types.VehicleClass
	Plate        string
	Model        string
}

// Validate normalises the command in place.
func (c *RegisterDriverCommand) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Plate = strings.ToUpper(strings.TrimSpace(c.Plate))
	c.Model = strings.TrimSpace(c.Model)
	if c.Name == "" || c.Email == "" || !strings.Contains(c.Email, "@") || c.Plate == "" || c.Model == "" {
		return ErrBadRequest
	}
	if !c.VehicleClass.Valid() {
		return ErrInvalidVehicleClass
	}
	return nil
}

// RegisterCommand is an authenticated account registering itself. Vehicle
// fields are required for drivers and ignored for customers.
type RegisterCommand struct {
	UID          types.ID
	Name         string
	Email        string
	Role         Role
	VehicleClass types.VehicleClass
	Plate        string
	Model        string
}

func (c *RegisterCommand) Validate() error {
	if c.UID == "" {
		return ErrBadRequest
	}
	switch c.Role {
	case "":
		c.Role = RoleUser
	case RoleUser, RoleDriver:
	default:
		return ErrInvalidRole
	}
	if c.Role == RoleDriver {
		d := c.driver()
		if err := d.Validate(); err != nil {
			return err
		}
		c.Name, c.Email, c.Plate, c.Model = d.Name, d.Email, d.Plate, d.Model
		return nil
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Name == "" || !strings.Contains(c.Email, "@") {
		return ErrBadRequest
	}
	return nil
}

func (c *RegisterCommand) driver() RegisterDriverCommand {
	return RegisterDriverCommand{
		UID: c.UID, Name: c.Name, Email: c.Email,
		VehicleClass: c.VehicleClass, Plate: c.Plate, Model: c.Model,
	}
}

// Register creates the caller's actor row, plus a vehicle for drivers, and
// records the role with the identity provider. Registering the same account
// again with the same role returns the stored actor and re-grants the role,
// so a failed grant can be retried. Customers come back without a vehicle.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Driver, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	var (
		d   *Driver
		err error
	)
	if cmd.Role == RoleDriver {
		d, err = s.createDriver(ctx, cmd.driver())
	} else {
		d, err = s.createUser(ctx, cmd)
	}
	return s.settle(ctx, cmd.UID, cmd.Role, d, err)
}

func (s *Service) RegisterDriver(ctx context.Context, cmd RegisterDriverCommand) (*Driver, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	d, err := s.createDriver(ctx, cmd)
	if cmd.UID == "" {
		// No identity-provider account to update.
		return d, err
	}
	return s.settle(ctx, cmd.UID, RoleDriver, d, err)
}

func (s *Service) createUser(ctx context.Context, cmd RegisterCommand) (*Driver, error) {
	a := Actor{
		ID:           cmd.UID,
		Name:         cmd.Name,
		Email:        cmd.Email,
		Role:         RoleUser,
		Availability: true,
		Rating:       DefaultRating,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, &a); err != nil {
		return nil, err
	}
	return &Driver{Actor: a}, nil
}

func (s *Service) createDriver(ctx context.Context, cmd RegisterDriverCommand) (*Driver, error) {
	now := s.now().UTC()
	id := cmd.UID
	if id == "" {
		id = types.NewID()
	}
	a := Actor{
		ID:           id,
		Name:         cmd.Name,
		Email:        cmd.Email,
		Role:         RoleDriver,
		Availability: true,
		Rating:       DefaultRating,
		CreatedAt:    now,
	}
	v := Vehicle{
		ID:        types.NewID(),
		OwnerID:   a.ID,
		Class:     cmd.VehicleClass,
		Plate:     cmd.Plate,
		Model:     cmd.Model,
		CreatedAt: now,
	}
	if err := s.store.CreateDriver(ctx, &a, &v); err != nil {
		return nil, err
	}
	a.VehicleID = &v.ID
	return &Driver{Actor: a, Vehicle: &v}, nil
}

// settle resolves a duplicate insert to the already stored actor when it is
// the same account in the same role, then grants the role.
func (s *Service) settle(ctx context.Context, uid types.ID, role Role, d *Driver, err error) (*Driver, error) {
	if errors.Is(err, ErrDuplicate) {
		prev, lerr := s.lookup(ctx, uid, role)
		if lerr != nil {
			return nil, err
		}
		d, err = prev, nil
	}
	if err != nil {
		return nil, err
	}
	if s.roles != nil {
		if err := s.roles.SetRole(ctx, string(uid), string(role)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRoleGrant, err)
		}
	}
	return d, nil
}

func (s *Service) lookup(ctx context.Context, uid types.ID, role Role) (*Driver, error) {
	a, err := s.store.GetActor(ctx, uid)
	if err != nil {
		return nil, err
	}
	if a.Role != role {
		return nil, ErrDuplicate
	}
	if role == RoleDriver {
		return s.store.GetDriver(ctx, uid)
	}
	return &Driver{Actor: *a}, nil
}

func (s *Service) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.GetDriver(ctx, id)
}

func (s *Service) ListDrivers(ctx context.Context) ([]Driver, error) {
	return s.store.ListDrivers(ctx)
}

func (s *Service) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	return s.store.ListVehicles(ctx)
}

func (s *Service) GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error) {
	return s.store.GetVehicle(ctx, id)
}

func (s *Service) AverageDriverRating(ctx context.Context) (float64, error) {
	return s.store.AverageDriverRating(ctx)
}
