package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"delivery/internal/domain"
)

// SettingsService reads and changes runtime dispatch settings.
type SettingsService interface {
	Get(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, caller domain.Caller, st domain.Settings) (domain.Settings, error)
}

// SettingsHandler handles HTTP requests for runtime settings.
type SettingsHandler struct {
	settings SettingsService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settings SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// SettingsBody is the wire form of the settings, in seconds and meters.
type SettingsBody struct {
	TTL          int64   `json:"ttl" binding:"required"`
	SearchRadius float64 `json:"search_radius" binding:"required"`
}

func toSettingsBody(st domain.Settings) SettingsBody {
	return SettingsBody{TTL: int64(st.TTL / time.Second), SearchRadius: st.SearchRadius}
}

// Get handles GET /v1/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	st, err := h.settings.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toSettingsBody(st))
}

// Update handles PUT /v1/settings
func (h *SettingsHandler) Update(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req SettingsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	st, err := h.settings.Update(c.Request.Context(), cl, domain.Settings{
		TTL:          time.Duration(req.TTL) * time.Second,
		SearchRadius: req.SearchRadius,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toSettingsBody(st))
}
