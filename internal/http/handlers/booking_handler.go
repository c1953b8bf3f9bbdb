// README: Booking handlers for the traveler's booking lifecycle and live tracking.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"namma/internal/http/middleware"
	"namma/internal/modules/booking"
	"namma/internal/modules/location"
	"namma/internal/modules/vehicle"
	"namma/internal/realtime"
	"namma/internal/types"
)

type BookingHandler struct {
	bookings *booking.Service
	vehicles *vehicle.Service
	hub      *realtime.Hub
}

func NewBookingHandler(bookings *booking.Service, vehicles *vehicle.Service, hub *realtime.Hub) *BookingHandler {
	return &BookingHandler{bookings: bookings, vehicles: vehicles, hub: hub}
}

type createBookingReq struct {
	StartLocation      location.Location `json:"startLocation"`
	EndLocation        location.Location `json:"endLocation"`
	VehicleID          string            `json:"vehicleId"`
	PickupInstructions string            `json:"pickupInstructions"`
}

// Create handles POST /api/bookings.
func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx := c.Request.Context()

	var v vehicle.Vehicle
	if req.VehicleID != "" {
		found, err := h.vehicles.Get(ctx, req.VehicleID)
		if errors.Is(err, vehicle.ErrNotFound) {
			writeJSON(c, http.StatusBadRequest, errorResponse{Error: "unknown vehicle", Field: "vehicleId"})
			return
		}
		if err != nil {
			writeServiceError(c, err)
			return
		}
		v = found
	}

	b, err := h.bookings.Create(ctx, booking.CreateCommand{
		TravelerID:   middleware.CallerUID(c),
		Start:        req.StartLocation,
		End:          req.EndLocation,
		Vehicle:      v,
		Instructions: req.PickupInstructions,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

// Current handles GET /api/bookings/current. An absent booking is reported as null.
func (h *BookingHandler) Current(c *gin.Context) {
	b, ok := h.bookings.Current(middleware.CallerUID(c))
	if !ok {
		writeJSON(c, http.StatusOK, gin.H{"booking": nil})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking": b})
}

// ClearCurrent handles DELETE /api/bookings/current.
func (h *BookingHandler) ClearCurrent(c *gin.Context) {
	h.bookings.ClearCurrent(c.Request.Context(), middleware.CallerUID(c))
	c.Status(http.StatusNoContent)
}

type instructionsReq struct {
	Instructions string `json:"instructions"`
}

// UpdateInstructions handles PUT /api/bookings/:id/instructions.
func (h *BookingHandler) UpdateInstructions(c *gin.Context) {
	var req instructionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	b, err := h.bookings.UpdatePickupInstructions(c.Request.Context(), booking.InstructionsCommand{
		TravelerID: middleware.CallerUID(c),
		BookingID:  types.ID(c.Param("id")),
		Text:       req.Instructions,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type feedbackReq struct {
	Rating   *int   `json:"rating" binding:"required"`
	Feedback string `json:"feedback"`
}

// Feedback handles POST /api/bookings/:id/feedback.
func (h *BookingHandler) Feedback(c *gin.Context) {
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	b, err := h.bookings.Rate(c.Request.Context(), booking.RateCommand{
		TravelerID: middleware.CallerUID(c),
		BookingID:  types.ID(c.Param("id")),
		Rating:     *req.Rating,
		Feedback:   req.Feedback,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type paymentReq struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Pay handles POST /api/bookings/:id/payments.
func (h *BookingHandler) Pay(c *gin.Context) {
	var req paymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	b, err := h.bookings.RecordPayment(c.Request.Context(), booking.PaymentCommand{
		TravelerID: middleware.CallerUID(c),
		BookingID:  types.ID(c.Param("id")),
		Amount:     req.Amount,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

// Events handles GET /api/bookings/:id/events.
func (h *BookingHandler) Events(c *gin.Context) {
	events, err := h.bookings.Events(c.Request.Context(), middleware.CallerUID(c), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

// Confirmed handles GET /api/bookings/confirmed.
func (h *BookingHandler) Confirmed(c *gin.Context) {
	list, err := h.bookings.FetchConfirmed(c.Request.Context(), middleware.CallerUID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}

// History handles GET /api/bookings/history.
func (h *BookingHandler) History(c *gin.Context) {
	list, err := h.bookings.FetchHistory(c.Request.Context(), middleware.CallerUID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}

// Track handles GET /api/bookings/track, upgrading to a WebSocket that first
// carries the current booking and then every update.
func (h *BookingHandler) Track(c *gin.Context) {
	traveler := middleware.CallerUID(c)
	var hello *realtime.Message
	if b, ok := h.bookings.Current(traveler); ok {
		hello = &realtime.Message{Type: realtime.MessageBookingUpdate, Booking: &b}
	}
	if err := h.hub.Serve(c.Writer, c.Request, traveler, hello); err != nil {
		// Upgrade has already written the HTTP error response.
		_ = c.Error(err)
	}
}
