// Package maps resolves road distances between booking places.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"haul/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// DistanceService looks up driving distance with the Google Distance Matrix API.
type DistanceService struct {
	client *maps.Client
}

// NewDistanceService creates a DistanceService with the given API key. Extra
// client options are appended, which tests use to point at a local server.
func NewDistanceService(apiKey string, opts ...maps.ClientOption) (*DistanceService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &DistanceService{client: client}, nil
}

// waypoint prefers the human label and falls back to "lat,lng".
func waypoint(p types.Place) string {
	if p.Label != "" {
		return p.Label
	}
	return strconv.FormatFloat(p.Point.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Point.Lng, 'f', -1, 64)
}

// DistanceKm returns the driving distance between the two places.
func (s *DistanceService) DistanceKm(ctx context.Context, from, to types.Place) (float64, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{waypoint(from)},
		Destinations: []string{waypoint(to)},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsMetric,
	}
	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, ErrNoRoute
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("%w: element status %s", ErrNoRoute, el.Status)
	}
	return float64(el.Distance.Meters) / 1000.0, nil
}

// StraightLine estimates distance from coordinates alone. Used when no maps
// API key is configured.
type StraightLine struct{}

func (StraightLine) DistanceKm(_ context.Context, from, to types.Place) (float64, error) {
	if !from.Point.Valid() || !to.Point.Valid() {
		return 0, errors.New("invalid coordinates")
	}
	return types.HaversineKm(from.Point, to.Point), nil
}
