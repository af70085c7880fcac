// README: Admin handlers: fleet registration and listing, vehicles, driver performance, booking analytics.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"haul/internal/modules/actor"
	"haul/internal/modules/booking"
	"haul/internal/types"
)

type AdminBookings interface {
	ListAll(ctx context.Context, limit int) ([]booking.Booking, error)
	CountByStatus(ctx context.Context) (map[booking.Status]int, error)
	DriverPerformance(ctx context.Context, driverID types.ID) (booking.Performance, error)
	Upcoming(ctx context.Context, now time.Time, lookahead time.Duration) ([]booking.Booking, error)
	History(ctx context.Context, id types.ID) ([]booking.Event, error)
	AverageTripMinutes(ctx context.Context) (*float64, error)
}

type Fleet interface {
	RegisterDriver(ctx context.Context, cmd actor.RegisterDriverCommand) (*actor.Driver, error)
	ListDrivers(ctx context.Context) ([]actor.Driver, error)
	GetDriver(ctx context.Context, id types.ID) (*actor.Driver, error)
	ListVehicles(ctx context.Context) ([]actor.Vehicle, error)
	GetVehicle(ctx context.Context, id types.ID) (*actor.Vehicle, error)
	AverageDriverRating(ctx context.Context) (float64, error)
}

type AdminHandler struct {
	bookings  AdminBookings
	fleet     Fleet
	lookahead time.Duration
	now       func() time.Time
}

func NewAdminHandler(bookings AdminBookings, fleet Fleet, lookahead time.Duration) *AdminHandler {
	return &AdminHandler{bookings: bookings, fleet: fleet, lookahead: lookahead, now: time.Now}
}

func (h *AdminHandler) ListDrivers(c *gin.Context) {
	drivers, err := h.fleet.ListDrivers(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if drivers == nil {
		drivers = []actor.Driver{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}

type registerDriverReq struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	VehicleClass string `json:"vehicle_class"`
	Plate        string `json:"plate"`
	Model        string `json:"model"`
}

func (h *AdminHandler) RegisterDriver(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	d, err := h.fleet.RegisterDriver(c.Request.Context(), actor.RegisterDriverCommand{
		UID:          types.ID(req.UID),
		Name:         req.Name,
		Email:        req.Email,
		VehicleClass: types.VehicleClass(req.VehicleClass),
		Plate:        req.Plate,
		Model:        req.Model,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *AdminHandler) ListVehicles(c *gin.Context) {
	vehicles, err := h.fleet.ListVehicles(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if vehicles == nil {
		vehicles = []actor.Vehicle{}
	}
	writeJSON(c, http.StatusOK, gin.H{"vehicles": vehicles})
}

func (h *AdminHandler) GetVehicle(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if id == "" {
		writeBadRequest(c, "missing vehicle id")
		return
	}
	v, err := h.fleet.GetVehicle(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

type driverPerformanceResp struct {
	DriverID       types.ID `json:"driver_id"`
	Name           string   `json:"name"`
	TotalRides     int      `json:"total_rides"`
	CompletedRides int      `json:"completed_rides"`
	RatedRides     int      `json:"rated_rides"`
	AverageRating  *float64 `json:"average_rating"`
	Rating         float64  `json:"rating"`
	TripCount      int      `json:"trip_count"`
}

func (h *AdminHandler) DriverPerformance(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if id == "" {
		writeBadRequest(c, "missing driver id")
		return
	}
	ctx := c.Request.Context()
	d, err := h.fleet.GetDriver(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	perf, err := h.bookings.DriverPerformance(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, driverPerformanceResp{
		DriverID:       d.ID,
		Name:           d.Name,
		TotalRides:     perf.TotalRides,
		CompletedRides: perf.CompletedRides,
		RatedRides:     perf.RatedRides,
		AverageRating:  perf.AverageRating,
		Rating:         d.Rating,
		TripCount:      d.TripCount,
	})
}

func (h *AdminHandler) Analytics(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.bookings.CountByStatus(ctx)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	avg, err := h.fleet.AverageDriverRating(ctx)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	tripMinutes, err := h.bookings.AverageTripMinutes(ctx)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(c, http.StatusOK, gin.H{
		"total_bookings":        total,
		"completed_bookings":    counts[booking.StatusCompleted],
		"bookings_by_status":    counts,
		"average_driver_rating": avg,
		// null until a trip has completed
		"average_trip_minutes": tripMinutes,
	})
}

func (h *AdminHandler) ListBookings(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.bookings.ListAll(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": nonNil(list)})
}

func (h *AdminHandler) Upcoming(c *gin.Context) {
	list, err := h.bookings.Upcoming(c.Request.Context(), h.now(), h.lookahead)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": nonNil(list)})
}

func (h *AdminHandler) History(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	events, err := h.bookings.History(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if events == nil {
		events = []booking.Event{}
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "events": events})
}
