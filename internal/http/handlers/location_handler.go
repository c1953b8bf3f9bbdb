// README: Location handlers for search and device-location resolution.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"namma/internal/http/middleware"
	"namma/internal/modules/location"
	"namma/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

// Search handles GET /api/locations/search?query=&lat=&lng=.
func (h *LocationHandler) Search(c *gin.Context) {
	near, err := queryPoint(c, "lat", "lng")
	if err != nil {
		writeServiceError(c, err)
		return
	}
	res, err := h.location.Search(c.Request.Context(), location.SearchQuery{
		TravelerID: middleware.CallerUID(c),
		Query:      c.Query("query"),
		Near:       near,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type currentLocationReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// Current handles POST /api/locations/current.
func (h *LocationHandler) Current(c *gin.Context) {
	var req currentLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	loc, err := h.location.CurrentLocation(c.Request.Context(), types.Point{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, loc)
}
