// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"haul/internal/http/handlers"
	"haul/internal/http/middleware"
	"haul/internal/infra"
)

type RouterDeps struct {
	Log      *slog.Logger
	Verifier infra.TokenVerifier
	Bookings *handlers.BookingHandler
	Drivers  *handlers.DriverHandler
	Pricing  *handlers.PricingHandler
	Admin    *handlers.AdminHandler
	Accounts *handlers.AccountHandler
	Realtime *handlers.RealtimeHandler
}

const (
	roleUser   = "user"
	roleDriver = "driver"
	roleAdmin  = "admin"
)

func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier)
	r.GET("/ws", auth, deps.Realtime.Connect)

	api := r.Group("/api", auth)
	api.POST("/me/register", deps.Accounts.Register)

	b := api.Group("/bookings")
	b.POST("", middleware.RequireRole(roleUser), deps.Bookings.Create)
	b.GET("/mine", middleware.RequireRole(roleUser), deps.Bookings.ListMine)
	b.GET("/pending", middleware.RequireRole(roleDriver), deps.Bookings.ListPending)
	b.GET("/:id", deps.Bookings.Get)
	b.POST("/:id/accept", middleware.RequireRole(roleDriver), deps.Bookings.Accept)
	b.PUT("/:id/status", middleware.RequireRole(roleDriver), deps.Bookings.UpdateStatus)
	b.POST("/:id/cancel", deps.Bookings.Cancel)
	b.POST("/:id/rate", middleware.RequireRole(roleUser), deps.Bookings.Rate)
	b.GET("/:id/location", deps.Bookings.Location)
	b.GET("/:id/trail", deps.Bookings.Trail)

	api.GET("/pricing/estimate", deps.Pricing.Estimate)
	api.PUT("/drivers/me/location", middleware.RequireRole(roleDriver), deps.Drivers.UpdateLocation)

	admin := api.Group("/admin", middleware.RequireRole(roleAdmin))
	admin.GET("/drivers", deps.Admin.ListDrivers)
	admin.POST("/drivers", deps.Admin.RegisterDriver)
	admin.GET("/drivers/:id/performance", deps.Admin.DriverPerformance)
	admin.GET("/vehicles", deps.Admin.ListVehicles)
	admin.GET("/vehicles/:id", deps.Admin.GetVehicle)
	admin.GET("/analytics", deps.Admin.Analytics)
	admin.GET("/bookings", deps.Admin.ListBookings)
	admin.GET("/bookings/upcoming", deps.Admin.Upcoming)
	admin.GET("/bookings/:id/events", deps.Admin.History)

	return r
}
