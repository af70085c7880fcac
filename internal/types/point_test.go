package types

import (
	"math"
	"testing"
)

func TestPlanarDistanceOrdersNearbyPoints(t *testing.T) {
	origin := Point{Lat: 12.9716, Lng: 77.5946}
	near := Point{Lat: 12.9720, Lng: 77.5950}
	far := Point{Lat: 12.9900, Lng: 77.6100}
	if PlanarDistance(origin, near) >= PlanarDistance(origin, far) {
		t.Fatalf("expected near point to rank before far point")
	}
	if got := PlanarDistance(Point{0, 0}, Point{3, 4}); got != 5 {
		t.Fatalf("PlanarDistance = %v, want 5", got)
	}
}

func TestHaversineKm(t *testing.T) {
	cases := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{"same point", Point{25.033, 121.565}, Point{25.033, 121.565}, 0, 0.0001},
		{"one degree latitude", Point{0, 0}, Point{1, 0}, 111.19, 0.1},
		{"bangalore to mysore", Point{12.9716, 77.5946}, Point{12.2958, 76.6394}, 128.0, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineKm(tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.tol {
				t.Errorf("HaversineKm = %.3f, want %.3f +/- %.3f", got, tc.want, tc.tol)
			}
		})
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{Lat: 45, Lng: 90}).Valid() {
		t.Fatal("expected valid point")
	}
	if (Point{Lat: 91, Lng: 0}).Valid() {
		t.Fatal("latitude 91 must be invalid")
	}
	if (Point{Lat: 0, Lng: -181}).Valid() {
		t.Fatal("longitude -181 must be invalid")
	}
}

func TestParseID(t *testing.T) {
	id := NewID()
	got, ok := ParseID(string(id))
	if !ok || got != id {
		t.Fatalf("ParseID(%q) = %q, %v", id, got, ok)
	}
	if _, ok := ParseID("not-an-id"); ok {
		t.Fatal("expected malformed id to be rejected")
	}
}
