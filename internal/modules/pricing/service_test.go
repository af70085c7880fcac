package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"haul/internal/types"
)

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) CountPending(context.Context) (int, error) { return f.n, f.err }

func TestCalculate(t *testing.T) {
	tests := []struct {
		name      string
		class     types.VehicleClass
		distance  float64
		pending   int
		wantTotal float64
		wantSurge float64
	}{
		{"truck 10km no surge", types.VehicleTruck, 10, 0, 250, 1.0},
		{"car 10km no surge", types.VehicleCar, 10, 0, 150, 1.0},
		{"bike 10km no surge", types.VehicleBike, 10, 0, 100, 1.0},
		{"zero distance is base fare", types.VehicleCar, 0, 0, 50, 1.0},
		{"20 pending is not surge", types.VehicleCar, 5, 20, 100, 1.0},
		{"21 pending is x1.3", types.VehicleCar, 5, 21, 130, 1.3},
		{"50 pending is x1.3", types.VehicleTruck, 10, 50, 325, 1.3},
		{"51 pending is x1.5", types.VehicleTruck, 10, 51, 375, 1.5},
		{"fractional distance", types.VehicleBike, 2.5, 0, 62.5, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Calculate(tt.class, tt.distance, tt.pending)
			if err != nil {
				t.Fatalf("Calculate() error = %v", err)
			}
			if math.Abs(q.Total-tt.wantTotal) > 1e-9 {
				t.Errorf("Total = %v, want %v", q.Total, tt.wantTotal)
			}
			if q.Surge != tt.wantSurge {
				t.Errorf("Surge = %v, want %v", q.Surge, tt.wantSurge)
			}
		})
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	if _, err := Calculate("van", 10, 0); !errors.Is(err, ErrInvalidVehicleClass) {
		t.Errorf("unknown class: got %v", err)
	}
	if _, err := Calculate("", 10, 0); !errors.Is(err, ErrInvalidVehicleClass) {
		t.Errorf("empty class: got %v", err)
	}
	for _, d := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := Calculate(types.VehicleCar, d, 0); !errors.Is(err, ErrInvalidDistance) {
			t.Errorf("distance %v: got %v", d, err)
		}
	}
}

// Price never drops when distance grows or when demand moves up a tier.
func TestCalculateMonotonic(t *testing.T) {
	classes := []types.VehicleClass{types.VehicleCar, types.VehicleTruck, types.VehicleBike}
	pendings := []int{0, 10, 20, 21, 35, 50, 51, 200}
	for _, c := range classes {
		for _, p := range pendings {
			prev := -1.0
			for d := 0.5; d <= 100; d += 0.5 {
				q, err := Calculate(c, d, p)
				if err != nil {
					t.Fatalf("Calculate(%s,%v,%d): %v", c, d, p, err)
				}
				if q.Total < prev {
					t.Fatalf("%s pending=%d: price fell from %v to %v at %vkm", c, p, prev, q.Total, d)
				}
				prev = q.Total
			}
		}
		for d := 0.5; d <= 100; d *= 2 {
			prev := -1.0
			for _, p := range pendings {
				q, _ := Calculate(c, d, p)
				if q.Total < prev {
					t.Fatalf("%s %vkm: price fell from %v to %v at pending=%d", c, d, prev, q.Total, p)
				}
				prev = q.Total
			}
		}
	}
}

func TestRateOrdering(t *testing.T) {
	if !(perKmRate[types.VehicleTruck] > perKmRate[types.VehicleCar] && perKmRate[types.VehicleCar] > perKmRate[types.VehicleBike]) {
		t.Fatalf("expected truck > car > bike, got %v", perKmRate)
	}
}

func TestEstimateUsesSameTableAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewService(fixedCounter{n: 30})
	est, err := s.Estimate(ctx, types.VehicleTruck, 10)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	charged, _ := Calculate(types.VehicleTruck, 10, 30)
	if est.Total != charged.Total {
		t.Fatalf("estimate %v diverges from charge %v", est.Total, charged.Total)
	}

	if _, err := NewService(fixedCounter{err: errors.New("db down")}).Estimate(ctx, types.VehicleCar, 1); err == nil {
		t.Fatal("expected counter error to surface")
	}

	q, err := NewService(nil).Estimate(ctx, types.VehicleBike, 4)
	if err != nil || q.Total != 70 || q.Surge != 1 {
		t.Fatalf("no counter: got %+v err=%v", q, err)
	}
}
