package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"delivery/internal/domain"
)

// DriverService handles driver positions.
type DriverService interface {
	UpdateLocation(ctx context.Context, caller domain.Caller, p domain.GeoPoint) error
	SetDriverOffline(ctx context.Context, caller domain.Caller) error
}

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	drivers DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(drivers DriverService) *DriverHandler {
	return &DriverHandler{drivers: drivers}
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UpdateLocation handles POST /v1/drivers/position
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	if err := h.drivers.UpdateLocation(c.Request.Context(), cl, domain.GeoPoint{Lat: req.Lat, Lng: req.Lng}); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GoOffline handles POST /v1/drivers/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	if err := h.drivers.SetDriverOffline(c.Request.Context(), cl); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
