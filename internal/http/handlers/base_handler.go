// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"namma/internal/domain"
	"namma/internal/modules/booking"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module errors onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	_ = c.Error(err)

	var verr *domain.ValidationError
	var cerr *booking.CreationError
	switch {
	case errors.As(err, &verr):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, vehicle.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidState), errors.Is(err, domain.ErrStaleResponse):
		writeError(c, http.StatusConflict, err.Error())
	case errors.As(err, &cerr), domain.IsNetwork(err), domain.IsRemote(err):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func bindError(c *gin.Context, err error) {
	_ = c.Error(err)
	writeError(c, http.StatusBadRequest, "invalid request body")
}

// queryFloat parses a required float query parameter.
func queryFloat(c *gin.Context, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, &domain.ValidationError{Field: name, Msg: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Msg: "must be a number"}
	}
	return v, nil
}

// queryPoint reads an optional lat/lng pair.
func queryPoint(c *gin.Context, latName, lngName string) (*types.Point, error) {
	if c.Query(latName) == "" && c.Query(lngName) == "" {
		return nil, nil
	}
	lat, err := queryFloat(c, latName)
	if err != nil {
		return nil, err
	}
	lng, err := queryFloat(c, lngName)
	if err != nil {
		return nil, err
	}
	p := types.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return nil, &domain.ValidationError{Field: latName, Msg: "latitude/longitude out of range"}
	}
	return &p, nil
}
