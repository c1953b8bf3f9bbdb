// README: Vehicle catalog and fare quote handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"namma/internal/domain"
	"namma/internal/modules/pricing"
	"namma/internal/modules/vehicle"
)

type VehicleHandler struct {
	vehicles *vehicle.Service
	pricing  *pricing.Service
}

func NewVehicleHandler(vehicles *vehicle.Service, pricing *pricing.Service) *VehicleHandler {
	return &VehicleHandler{vehicles: vehicles, pricing: pricing}
}

// List handles GET /api/vehicles.
func (h *VehicleHandler) List(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.vehicles.List(c.Request.Context()))
}

// Fare handles GET /api/fare?start_lat&start_lng&end_lat&end_lng&vehicle_id.
func (h *VehicleHandler) Fare(c *gin.Context) {
	start, err := queryPoint(c, "start_lat", "start_lng")
	if err == nil && start == nil {
		err = &domain.ValidationError{Field: "start_lat", Msg: "is required"}
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	end, err := queryPoint(c, "end_lat", "end_lng")
	if err == nil && end == nil {
		err = &domain.ValidationError{Field: "end_lat", Msg: "is required"}
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	vehicleID := c.Query("vehicle_id")
	if vehicleID == "" {
		writeServiceError(c, &domain.ValidationError{Field: "vehicle_id", Msg: "is required"})
		return
	}

	ctx := c.Request.Context()
	v, err := h.vehicles.Get(ctx, vehicleID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	quote := h.pricing.Quote(ctx, *start, *end, v)
	writeJSON(c, http.StatusOK, gin.H{"vehicle": v, "quote": quote})
}
