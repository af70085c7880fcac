// README: Booking handlers for create/list/get/status/cancel/rate and trip location reads.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"haul/internal/modules/booking"
	"haul/internal/modules/location"
	"haul/internal/types"
)

type BookingService interface {
	Create(ctx context.Context, cmd booking.CreateCommand) (*booking.Booking, error)
	Get(ctx context.Context, id types.ID, caller booking.Caller) (*booking.Booking, error)
	ListMine(ctx context.Context, requesterID types.ID) ([]booking.Booking, error)
	ListPending(ctx context.Context) ([]booking.Booking, error)
	Accept(ctx context.Context, cmd booking.AcceptCommand) (*booking.AcceptResult, error)
	UpdateStatus(ctx context.Context, cmd booking.UpdateStatusCommand) (*booking.Booking, error)
	Cancel(ctx context.Context, cmd booking.CancelCommand) (*booking.Booking, error)
	Rate(ctx context.Context, cmd booking.RateCommand) (*booking.RateResult, error)
}

type TripLocations interface {
	BookingLocation(ctx context.Context, bookingID types.ID) (location.Fix, bool, error)
	Trail(ctx context.Context, bookingID types.ID) ([]location.Record, error)
}

type BookingHandler struct {
	bookings  BookingService
	locations TripLocations
}

func NewBookingHandler(bookings BookingService, locations TripLocations) *BookingHandler {
	return &BookingHandler{bookings: bookings, locations: locations}
}

type createBookingReq struct {
	Pickup       types.Place `json:"pickup"`
	Dropoff      types.Place `json:"dropoff"`
	VehicleClass string      `json:"vehicle_class"`
	ScheduledAt  *time.Time  `json:"scheduled_at"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	b, err := h.bookings.Create(c.Request.Context(), booking.CreateCommand{
		RequesterID:  callerOf(c).ID,
		Pickup:       req.Pickup,
		Dropoff:      req.Dropoff,
		VehicleClass: types.VehicleClass(req.VehicleClass),
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *BookingHandler) ListMine(c *gin.Context) {
	list, err := h.bookings.ListMine(c.Request.Context(), callerOf(c).ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": nonNil(list)})
}

func (h *BookingHandler) ListPending(c *gin.Context) {
	list, err := h.bookings.ListPending(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": nonNil(list)})
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), id, callerOf(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) Accept(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	res, err := h.bookings.Accept(c.Request.Context(), booking.AcceptCommand{BookingID: id, DriverID: callerOf(c).ID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeBadRequest(c, "missing status")
		return
	}
	b, err := h.bookings.UpdateStatus(c.Request.Context(), booking.UpdateStatusCommand{
		BookingID: id,
		Caller:    callerOf(c),
		Status:    booking.Status(req.Status),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.bookings.Cancel(c.Request.Context(), booking.CancelCommand{BookingID: id, Caller: callerOf(c)})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type rateReq struct {
	Rating int `json:"rating"`
}

func (h *BookingHandler) Rate(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	res, err := h.bookings.Rate(c.Request.Context(), booking.RateCommand{BookingID: id, Caller: callerOf(c), Rating: req.Rating})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// Location returns the latest trip position; 404 with code location_unknown
// when nothing fresh has been recorded.
func (h *BookingHandler) Location(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	if _, err := h.bookings.Get(c.Request.Context(), id, callerOf(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	fix, found, err := h.locations.BookingLocation(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !found {
		writeError(c, http.StatusNotFound, "location_unknown", "no recent location for booking")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"booking_id":  id,
		"point":       fix.Point,
		"age_seconds": fix.Age.Seconds(),
	})
}

func (h *BookingHandler) Trail(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	if _, err := h.bookings.Get(c.Request.Context(), id, callerOf(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	trail, err := h.locations.Trail(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if trail == nil {
		trail = []location.Record{}
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "trail": trail})
}

func nonNil(list []booking.Booking) []booking.Booking {
	if list == nil {
		return []booking.Booking{}
	}
	return list
}
