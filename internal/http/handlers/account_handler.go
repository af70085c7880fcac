// README: Account handler: an authenticated identity registers itself as a customer or driver.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"haul/internal/modules/actor"
	"haul/internal/types"
)

type Accounts interface {
	Register(ctx context.Context, cmd actor.RegisterCommand) (*actor.Driver, error)
}

type AccountHandler struct {
	accounts Accounts
}

func NewAccountHandler(accounts Accounts) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type registerReq struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	VehicleClass string `json:"vehicle_class"`
	Plate        string `json:"plate"`
	Model        string `json:"model"`
}

// Register binds the actor to the token's UID. Admins are provisioned out of
// band and may not re-register, which would overwrite their role claim.
func (h *AccountHandler) Register(c *gin.Context) {
	caller := callerOf(c)
	if caller.Role == actor.RoleAdmin {
		writeError(c, http.StatusForbidden, "forbidden", "admins cannot self-register")
		return
	}
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	a, err := h.accounts.Register(c.Request.Context(), actor.RegisterCommand{
		UID:          caller.ID,
		Name:         req.Name,
		Email:        req.Email,
		Role:         actor.Role(req.Role),
		VehicleClass: types.VehicleClass(req.VehicleClass),
		Plate:        req.Plate,
		Model:        req.Model,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, a)
}
