package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"delivery/internal/domain"
	"delivery/internal/service"
)

// ConflictService is the conflict workflow as seen by HTTP.
type ConflictService interface {
	Report(ctx context.Context, caller domain.Caller, req service.ReportRequest) (*domain.Conflict, error)
	Assign(ctx context.Context, caller domain.Caller, conflictID, backupDriverID string) (*domain.Conflict, error)
	Resolve(ctx context.Context, caller domain.Caller, conflictID, code string) (*domain.Conflict, error)
	Cancel(ctx context.Context, caller domain.Caller, conflictID string) (*domain.Conflict, error)
	Get(ctx context.Context, caller domain.Caller, conflictID string) (*domain.Conflict, error)
	ListUnassigned(ctx context.Context, caller domain.Caller, page, size int) (*service.ConflictPage, error)
}

// ConflictHandler handles HTTP requests for conflicts.
type ConflictHandler struct {
	conflicts ConflictService
}

// NewConflictHandler creates a new ConflictHandler.
func NewConflictHandler(conflicts ConflictService) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts}
}

// ReportConflictRequest is the HTTP request body for reporting a conflict.
type ReportConflictRequest struct {
	Type     string           `json:"type" binding:"required"`
	Location *domain.GeoPoint `json:"location"`
}

// AssignConflictRequest names the backup driver.
type AssignConflictRequest struct {
	BackupDriverID string `json:"backupDriverId" binding:"required"`
}

// ListQuery is the pagination query. Zero values take the service defaults.
type ListQuery struct {
	Page int `form:"page" binding:"omitempty,min=1"`
	Size int `form:"size" binding:"omitempty,min=1"`
}

// ConflictResponse is the HTTP response for conflict data.
type ConflictResponse struct {
	ID           string          `json:"id"`
	DeliveryID   string          `json:"deliveryId"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	ReporterID   string          `json:"reporterId"`
	AssignerID   string          `json:"assignerId,omitempty"`
	AssigneeID   string          `json:"assigneeId,omitempty"`
	LastLocation domain.GeoPoint `json:"lastLocation"`
	CreatedAt    time.Time       `json:"createdAt"`
	AssignedAt   *time.Time      `json:"assignedAt,omitempty"`
	ClosedAt     *time.Time      `json:"closedAt,omitempty"`
}

// ConflictPageResponse is a page of conflicts.
type ConflictPageResponse struct {
	Items []ConflictResponse `json:"items"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
	Total int                `json:"total"`
}

func toConflictResponse(cf *domain.Conflict) ConflictResponse {
	return ConflictResponse{
		ID:           cf.ID,
		DeliveryID:   cf.DeliveryID,
		Status:       string(cf.Status),
		Type:         cf.Type,
		ReporterID:   cf.ReporterID,
		AssignerID:   cf.AssignerID,
		AssigneeID:   cf.AssigneeID,
		LastLocation: cf.LastLocation,
		CreatedAt:    cf.CreatedAt,
		AssignedAt:   optionalTime(cf.AssignedAt),
		ClosedAt:     optionalTime(cf.ClosedAt),
	}
}

// Report handles POST /v1/deliveries/:id/conflicts
func (h *ConflictHandler) Report(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req ReportConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	cf, err := h.conflicts.Report(c.Request.Context(), cl, service.ReportRequest{
		DeliveryID: c.Param("id"),
		Type:       req.Type,
		Location:   req.Location,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toConflictResponse(cf))
}

// Assign handles POST /v1/conflicts/:id/assign
func (h *ConflictHandler) Assign(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req AssignConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	cf, err := h.conflicts.Assign(c.Request.Context(), cl, c.Param("id"), req.BackupDriverID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toConflictResponse(cf))
}

// Resolve handles POST /v1/conflicts/:id/resolve
func (h *ConflictHandler) Resolve(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req TerminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	cf, err := h.conflicts.Resolve(c.Request.Context(), cl, c.Param("id"), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toConflictResponse(cf))
}

// Cancel handles POST /v1/conflicts/:id/cancel
func (h *ConflictHandler) Cancel(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	cf, err := h.conflicts.Cancel(c.Request.Context(), cl, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toConflictResponse(cf))
}

// Get handles GET /v1/conflicts/:id
func (h *ConflictHandler) Get(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	cf, err := h.conflicts.Get(c.Request.Context(), cl, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toConflictResponse(cf))
}

// ListUnassigned handles GET /v1/conflicts/unassigned
func (h *ConflictHandler) ListUnassigned(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c)
		return
	}

	page, err := h.conflicts.ListUnassigned(c.Request.Context(), cl, q.Page, q.Size)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]ConflictResponse, 0, len(page.Items))
	for _, cf := range page.Items {
		items = append(items, toConflictResponse(cf))
	}
	respondJSON(c, http.StatusOK, ConflictPageResponse{
		Items: items,
		Page:  page.Page,
		Size:  page.Size,
		Total: page.Total,
	})
}
