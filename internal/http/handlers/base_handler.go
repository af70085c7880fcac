// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"haul/internal/http/middleware"
	"haul/internal/modules/actor"
	"haul/internal/modules/booking"
	"haul/internal/modules/location"
	"haul/internal/modules/pricing"
	"haul/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func writeBadRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, "invalid_request", msg)
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable gives every rejection a stable code clients can branch on.
var errorTable = []errorMapping{
	{booking.ErrBadRequest, http.StatusBadRequest, "invalid_request"},
	{booking.ErrInvalidVehicleClass, http.StatusBadRequest, "invalid_vehicle_class"},
	{booking.ErrInvalidRating, http.StatusBadRequest, "invalid_rating"},
	{booking.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{booking.ErrNotFound, http.StatusNotFound, "booking_not_found"},
	{booking.ErrDriverNotFound, http.StatusNotFound, "driver_not_found"},
	{booking.ErrUnavailable, http.StatusConflict, "booking_unavailable"},
	{booking.ErrAlreadyRated, http.StatusConflict, "already_rated"},
	{booking.ErrNotCompleted, http.StatusConflict, "not_completed"},
	{booking.ErrInvalidState, http.StatusConflict, "invalid_transition"},
	{booking.ErrNoVehicle, http.StatusConflict, "driver_has_no_vehicle"},
	{booking.ErrDriverBusy, http.StatusConflict, "driver_busy"},
	{booking.ErrVehicleMismatch, http.StatusConflict, "vehicle_class_mismatch"},
	{booking.ErrForbidden, http.StatusForbidden, "forbidden"},
	{booking.ErrDistanceLookup, http.StatusBadGateway, "upstream_unavailable"},
	{location.ErrInvalidPoint, http.StatusBadRequest, "invalid_request"},
	{location.ErrUnavailable, http.StatusBadGateway, "upstream_unavailable"},
	{pricing.ErrInvalidVehicleClass, http.StatusBadRequest, "invalid_vehicle_class"},
	{pricing.ErrInvalidDistance, http.StatusBadRequest, "invalid_request"},
	{actor.ErrBadRequest, http.StatusBadRequest, "invalid_request"},
	{actor.ErrInvalidVehicleClass, http.StatusBadRequest, "invalid_vehicle_class"},
	{actor.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{actor.ErrNotFound, http.StatusNotFound, "driver_not_found"},
	{actor.ErrVehicleNotFound, http.StatusNotFound, "vehicle_not_found"},
	{actor.ErrDuplicate, http.StatusConflict, "duplicate"},
	{actor.ErrRoleGrant, http.StatusBadGateway, "upstream_unavailable"},
}

func writeServiceError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			writeError(c, m.status, m.code, m.err.Error())
			return
		}
	}
	_ = c.Error(err)
	writeError(c, http.StatusInternalServerError, "internal", "internal error")
}

func callerOf(c *gin.Context) booking.Caller {
	return booking.Caller{
		ID:   types.ID(middleware.CallerUID(c)),
		Role: actor.Role(middleware.CallerRole(c)),
	}
}

// bookingID reads and validates the :id path parameter, writing a 400 if bad.
func bookingID(c *gin.Context) (types.ID, bool) {
	id, ok := types.ParseID(c.Param("id"))
	if !ok {
		writeBadRequest(c, "invalid booking id")
		return "", false
	}
	return id, true
}
