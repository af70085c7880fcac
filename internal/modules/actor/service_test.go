package actor

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	"haul/internal/types"
)

func TestRegisterDriverCommandValidate(t *testing.T) {
	valid := RegisterDriverCommand{Name: " Ravi ", Email: " Ravi@Example.com", VehicleClass: types.VehicleTruck, Plate: " ka01ab1234 ", Model: "Tata Ace"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if valid.Name != "Ravi" || valid.Email != "ravi@example.com" || valid.Plate != "KA01AB1234" {
		t.Fatalf("expected normalised fields, got %+v", valid)
	}

	cases := []struct {
		name string
		cmd  RegisterDriverCommand
		want error
	}{
		{"missing name", RegisterDriverCommand{Email: "a@b.c", VehicleClass: types.VehicleCar, Plate: "P1", Model: "M"}, ErrBadRequest},
		{"bad email", RegisterDriverCommand{Name: "n", Email: "nope", VehicleClass: types.VehicleCar, Plate: "P1", Model: "M"}, ErrBadRequest},
		{"missing plate", RegisterDriverCommand{Name: "n", Email: "a@b.c", VehicleClass: types.VehicleCar, Model: "M"}, ErrBadRequest},
		{"unknown class", RegisterDriverCommand{Name: "n", Email: "a@b.c", VehicleClass: "van", Plate: "P1", Model: "M"}, ErrInvalidVehicleClass},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cmd.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate = %v, want %v", err, tc.want)
			}
		})
	}
}

// Validation happens before the store is touched, so a nil store is safe here.
func TestRegisterDriverRejectsInvalidWithoutStore(t *testing.T) {
	svc := NewService(nil, nil)
	_, err := svc.RegisterDriver(context.Background(), RegisterDriverCommand{Name: "x"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleDriver, RoleAdmin} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("owner").Valid() {
		t.Error("unknown role must be invalid")
	}
}

// memRepo enforces the same uniqueness the schema does: actor id, email and
// plate.
type memRepo struct {
	mu       sync.Mutex
	actors   map[types.ID]Actor
	vehicles map[types.ID]Vehicle
}

func newMemRepo() *memRepo {
	return &memRepo{actors: make(map[types.ID]Actor), vehicles: make(map[types.ID]Vehicle)}
}

func (m *memRepo) insert(a *Actor) error {
	if _, ok := m.actors[a.ID]; ok {
		return ErrDuplicate
	}
	for _, other := range m.actors {
		if other.Email == a.Email {
			return ErrDuplicate
		}
	}
	m.actors[a.ID] = *a
	return nil
}

func (m *memRepo) Create(_ context.Context, a *Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(a)
}

func (m *memRepo) CreateDriver(_ context.Context, a *Actor, v *Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.vehicles {
		if other.Plate == v.Plate {
			return ErrDuplicate
		}
	}
	stored := *a
	stored.VehicleID = &v.ID
	if err := m.insert(&stored); err != nil {
		return err
	}
	m.vehicles[v.ID] = *v
	return nil
}

func (m *memRepo) GetActor(_ context.Context, id types.ID) (*Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *memRepo) GetDriver(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok || a.Role != RoleDriver {
		return nil, ErrNotFound
	}
	d := &Driver{Actor: a}
	if a.VehicleID != nil {
		v := m.vehicles[*a.VehicleID]
		d.Vehicle = &v
	}
	return d, nil
}

func (m *memRepo) ListDrivers(ctx context.Context) ([]Driver, error) {
	var out []Driver
	for _, id := range m.ids() {
		if d, err := m.GetDriver(ctx, id); err == nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memRepo) ids() []types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ID, 0, len(m.actors))
	for id := range m.actors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *memRepo) ListVehicles(context.Context) ([]Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Vehicle
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) GetVehicle(_ context.Context, id types.ID) (*Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	return &v, nil
}

func (m *memRepo) AverageDriverRating(context.Context) (float64, error) {
	return 0, nil
}

type recordingGranter struct {
	grants []string
	err    error
}

func (g *recordingGranter) SetRole(_ context.Context, uid, role string) error {
	if g.err != nil {
		return g.err
	}
	g.grants = append(g.grants, uid+"="+role)
	return nil
}

func TestRegisterCustomerGrantsUserRole(t *testing.T) {
	repo, roles := newMemRepo(), &recordingGranter{}
	svc := NewService(repo, roles)

	u, err := svc.Register(context.Background(), RegisterCommand{UID: "uid-1", Name: " Meera ", Email: "Meera@Example.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID != "uid-1" || u.Role != RoleUser || u.Vehicle != nil || u.Email != "meera@example.com" {
		t.Fatalf("unexpected actor %+v", u)
	}
	if !reflect.DeepEqual(roles.grants, []string{"uid-1=user"}) {
		t.Fatalf("unexpected grants %v", roles.grants)
	}
	if a, err := repo.GetActor(context.Background(), "uid-1"); err != nil || a.Role != RoleUser {
		t.Fatalf("customer row not stored: %+v err=%v", a, err)
	}
}

func TestRegisterDriverSelfServiceGrantsDriverRole(t *testing.T) {
	repo, roles := newMemRepo(), &recordingGranter{}
	svc := NewService(repo, roles)

	d, err := svc.Register(context.Background(), RegisterCommand{
		UID: "uid-2", Name: "Ravi", Email: "ravi@example.com", Role: RoleDriver,
		VehicleClass: types.VehicleBike, Plate: "ka05 bk 1", Model: "Splendor",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.Role != RoleDriver || d.Vehicle == nil || d.Vehicle.Class != types.VehicleBike || d.Vehicle.Plate != "KA05 BK 1" {
		t.Fatalf("unexpected driver %+v", d)
	}
	if !reflect.DeepEqual(roles.grants, []string{"uid-2=driver"}) {
		t.Fatalf("unexpected grants %v", roles.grants)
	}
}

func TestRegisterRejections(t *testing.T) {
	repo, roles := newMemRepo(), &recordingGranter{}
	svc := NewService(repo, roles)

	cases := []struct {
		name string
		cmd  RegisterCommand
		want error
	}{
		{"no uid", RegisterCommand{Name: "n", Email: "a@b.c"}, ErrBadRequest},
		{"admin", RegisterCommand{UID: "u", Name: "n", Email: "a@b.c", Role: RoleAdmin}, ErrInvalidRole},
		{"driver without vehicle", RegisterCommand{UID: "u", Name: "n", Email: "a@b.c", Role: RoleDriver}, ErrBadRequest},
		{"driver with unknown class", RegisterCommand{UID: "u", Name: "n", Email: "a@b.c", Role: RoleDriver, VehicleClass: "van", Plate: "P", Model: "M"}, ErrInvalidVehicleClass},
		{"bad email", RegisterCommand{UID: "u", Name: "n", Email: "nope"}, ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(repo.ids()) != 0 || len(roles.grants) != 0 {
		t.Fatalf("rejected registrations must not store or grant anything")
	}
}

func TestRegisterRetriesAfterFailedGrant(t *testing.T) {
	repo, roles := newMemRepo(), &recordingGranter{err: errors.New("identity provider down")}
	svc := NewService(repo, roles)
	cmd := RegisterCommand{UID: "uid-3", Name: "Asha", Email: "asha@example.com", Role: RoleDriver, VehicleClass: types.VehicleTruck, Plate: "KA01", Model: "Dost"}

	if _, err := svc.Register(context.Background(), cmd); !errors.Is(err, ErrRoleGrant) {
		t.Fatalf("expected ErrRoleGrant, got %v", err)
	}
	roles.err = nil
	d, err := svc.Register(context.Background(), cmd)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d.ID != "uid-3" || d.Vehicle == nil {
		t.Fatalf("retry must return the stored driver, got %+v", d)
	}
	if !reflect.DeepEqual(roles.grants, []string{"uid-3=driver"}) {
		t.Fatalf("unexpected grants %v", roles.grants)
	}
	if vs, _ := repo.ListVehicles(context.Background()); len(vs) != 1 {
		t.Fatalf("retry must not add a second vehicle, got %d", len(vs))
	}
}

func TestRegisterCannotSwitchRoleOrTakeEmail(t *testing.T) {
	repo, roles := newMemRepo(), &recordingGranter{}
	svc := NewService(repo, roles)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterCommand{UID: "uid-4", Name: "Meera", Email: "meera@example.com"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.Register(ctx, RegisterCommand{UID: "uid-4", Name: "Meera", Email: "meera2@example.com", Role: RoleDriver, VehicleClass: types.VehicleCar, Plate: "P", Model: "M"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate switching role, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterCommand{UID: "uid-5", Name: "Other", Email: "meera@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a taken email, got %v", err)
	}
	if !reflect.DeepEqual(roles.grants, []string{"uid-4=user"}) {
		t.Fatalf("no role may be granted on rejected registrations, got %v", roles.grants)
	}
}

func TestAdminRegisterDriverGrantsOnlyLinkedAccounts(t *testing.T) {
	repo, roles := newMemRepo(), &recordingGranter{}
	svc := NewService(repo, roles)
	ctx := context.Background()

	if _, err := svc.RegisterDriver(ctx, RegisterDriverCommand{UID: "uid-6", Name: "Ana", Email: "ana@example.com", VehicleClass: types.VehicleCar, Plate: "P6", Model: "Swift"}); err != nil {
		t.Fatalf("register linked: %v", err)
	}
	d, err := svc.RegisterDriver(ctx, RegisterDriverCommand{Name: "Bo", Email: "bo@example.com", VehicleClass: types.VehicleCar, Plate: "P7", Model: "Swift"})
	if err != nil {
		t.Fatalf("register unlinked: %v", err)
	}
	if d.ID == "" {
		t.Fatalf("unlinked driver needs a generated id")
	}
	if !reflect.DeepEqual(roles.grants, []string{"uid-6=driver"}) {
		t.Fatalf("unexpected grants %v", roles.grants)
	}

	vs, err := svc.ListVehicles(ctx)
	if err != nil || len(vs) != 2 {
		t.Fatalf("list vehicles: %+v err=%v", vs, err)
	}
	if v, err := svc.GetVehicle(ctx, *d.VehicleID); err != nil || v.OwnerID != d.ID {
		t.Fatalf("get vehicle: %+v err=%v", v, err)
	}
	if _, err := svc.GetVehicle(ctx, "missing"); !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}
}
