// README: Driver handlers: location push, optionally scoped to the driver's active trip.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"haul/internal/modules/booking"
	"haul/internal/types"
)

type LocationPublisher interface {
	PublishDriverLocation(ctx context.Context, driverID, bookingID types.ID, p types.Point) error
}

type BookingGetter interface {
	Get(ctx context.Context, id types.ID, caller booking.Caller) (*booking.Booking, error)
}

type DriverHandler struct {
	bookings  BookingGetter
	publisher LocationPublisher
}

func NewDriverHandler(bookings BookingGetter, publisher LocationPublisher) *DriverHandler {
	return &DriverHandler{bookings: bookings, publisher: publisher}
}

type driverLocationReq struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	BookingID string   `json:"booking_id"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req driverLocationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeBadRequest(c, "lat and lng are required")
		return
	}
	p := types.Point{Lat: *req.Lat, Lng: *req.Lng}
	if !p.Valid() {
		writeBadRequest(c, "invalid coordinates")
		return
	}
	caller := callerOf(c)

	var tripID types.ID
	if req.BookingID != "" {
		id, ok := types.ParseID(req.BookingID)
		if !ok {
			writeBadRequest(c, "invalid booking id")
			return
		}
		b, err := h.bookings.Get(c.Request.Context(), id, caller)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		if !b.IsAssignedDriver(caller.ID) {
			writeServiceError(c, booking.ErrForbidden)
			return
		}
		if b.Status != booking.StatusAccepted && b.Status != booking.StatusInProgress {
			writeError(c, http.StatusConflict, "booking_not_active", "booking is not in progress")
			return
		}
		tripID = b.ID
	}

	if err := h.publisher.PublishDriverLocation(c.Request.Context(), caller.ID, tripID, p); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"point": p, "booking_id": tripID})
}
