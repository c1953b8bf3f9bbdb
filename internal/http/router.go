// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"namma/internal/http/handlers"
	"namma/internal/http/middleware"
	"namma/internal/infra"
	"namma/internal/modules/booking"
	"namma/internal/modules/location"
	"namma/internal/modules/pricing"
	"namma/internal/modules/vehicle"
	"namma/internal/realtime"
)

type RouterDeps struct {
	Verifier       infra.IdentityVerifier
	Location       *location.Service
	Vehicles       *vehicle.Service
	Pricing        *pricing.Service
	Bookings       *booking.Service
	Hub            *realtime.Hub
	AllowedOrigins []string
	Log            logrus.FieldLogger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), cors.New(corsConfig(deps.AllowedOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.GET("/locations/search", locationHandler.Search)
	api.POST("/locations/current", locationHandler.Current)

	vehicleHandler := handlers.NewVehicleHandler(deps.Vehicles, deps.Pricing)
	api.GET("/vehicles", vehicleHandler.List)
	api.GET("/fare", vehicleHandler.Fare)

	bookingHandler := handlers.NewBookingHandler(deps.Bookings, deps.Vehicles, deps.Hub)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings/current", bookingHandler.Current)
	api.DELETE("/bookings/current", bookingHandler.ClearCurrent)
	api.GET("/bookings/confirmed", bookingHandler.Confirmed)
	api.GET("/bookings/history", bookingHandler.History)
	api.GET("/bookings/track", bookingHandler.Track)
	api.PUT("/bookings/:id/instructions", bookingHandler.UpdateInstructions)
	api.POST("/bookings/:id/feedback", bookingHandler.Feedback)
	api.POST("/bookings/:id/payments", bookingHandler.Pay)
	api.GET("/bookings/:id/events", bookingHandler.Events)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
