// README: Upgrades authenticated requests to the realtime socket.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"haul/internal/modules/booking"
)

type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, caller booking.Caller)
}

type RealtimeHandler struct {
	sockets SocketServer
}

func NewRealtimeHandler(sockets SocketServer) *RealtimeHandler {
	return &RealtimeHandler{sockets: sockets}
}

func (h *RealtimeHandler) Connect(c *gin.Context) {
	h.sockets.Serve(c.Writer, c.Request, callerOf(c))
}
