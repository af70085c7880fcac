// README: Price estimate handler; quotes use the same fare table as committed bookings.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"haul/internal/modules/pricing"
	"haul/internal/types"
)

type Estimator interface {
	Estimate(ctx context.Context, class types.VehicleClass, distanceKm float64) (pricing.Quote, error)
}

type DistanceLookup interface {
	DistanceKm(ctx context.Context, from, to types.Place) (float64, error)
}

type PricingHandler struct {
	pricing  Estimator
	distance DistanceLookup
}

func NewPricingHandler(pricing Estimator, distance DistanceLookup) *PricingHandler {
	return &PricingHandler{pricing: pricing, distance: distance}
}

// Estimate takes vehicle_class plus either distance_km or the four
// pickup/dropoff coordinates, in which case distance is looked up.
func (h *PricingHandler) Estimate(c *gin.Context) {
	class := types.VehicleClass(c.Query("vehicle_class"))
	if !class.Valid() {
		writeServiceError(c, pricing.ErrInvalidVehicleClass)
		return
	}

	var km float64
	if raw := c.Query("distance_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeBadRequest(c, "invalid distance_km")
			return
		}
		km = v
	} else {
		from, ok1 := queryPoint(c, "pickup_lat", "pickup_lng")
		to, ok2 := queryPoint(c, "dropoff_lat", "dropoff_lng")
		if !ok1 || !ok2 {
			writeBadRequest(c, "distance_km or pickup/dropoff coordinates required")
			return
		}
		v, err := h.distance.DistanceKm(c.Request.Context(), types.Place{Point: from}, types.Place{Point: to})
		if err != nil {
			_ = c.Error(err)
			writeError(c, http.StatusBadGateway, "upstream_unavailable", "distance lookup failed")
			return
		}
		km = v
	}

	quote, err := h.pricing.Estimate(c.Request.Context(), class, km)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quote)
}

func queryPoint(c *gin.Context, latKey, lngKey string) (types.Point, bool) {
	lat, err := strconv.ParseFloat(c.Query(latKey), 64)
	if err != nil {
		return types.Point{}, false
	}
	lng, err := strconv.ParseFloat(c.Query(lngKey), 64)
	if err != nil {
		return types.Point{}, false
	}
	p := types.Point{Lat: lat, Lng: lng}
	return p, p.Valid()
}
