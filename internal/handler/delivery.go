package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/service"
)

// DeliveryService is the delivery state machine as seen by HTTP.
type DeliveryService interface {
	Create(ctx context.Context, caller domain.Caller, req service.CreateDeliveryRequest) (*domain.Delivery, error)
	Accept(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)
	SignalArrival(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)
	ConfirmDeposit(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)
	Terminate(ctx context.Context, caller domain.Caller, id, code string) (*domain.Delivery, error)
	Cancel(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)
	Get(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)
}

// DeliveryHandler handles HTTP requests for deliveries.
type DeliveryHandler struct {
	deliveries DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(deliveries DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries}
}

// CreateDeliveryRequest is the HTTP request body for creating a delivery.
type CreateDeliveryRequest struct {
	PackageType string            `json:"packageType" binding:"required"`
	Departure   domain.Place      `json:"departure" binding:"required"`
	Destination domain.Place      `json:"destination" binding:"required"`
	Recipients  domain.Recipients `json:"recipients" binding:"required"`
}

// TerminateRequest carries the handoff code.
type TerminateRequest struct {
	Code string `json:"code" binding:"required"`
}

// DeliveryResponse is the HTTP response for delivery data.
type DeliveryResponse struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	ClientID    string            `json:"clientId"`
	DriverID    string            `json:"driverId,omitempty"`
	ConflictID  string            `json:"conflictId,omitempty"`
	Code        string            `json:"code,omitempty"`
	PackageType string            `json:"packageType"`
	Departure   domain.Place      `json:"departure"`
	Destination domain.Place      `json:"destination"`
	Recipients  domain.Recipients `json:"recipients"`
	Price       decimal.Decimal   `json:"price"`
	CreatedAt   time.Time         `json:"createdAt"`
	AcceptedAt  *time.Time        `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	CancelledAt *time.Time        `json:"cancelledAt,omitempty"`
}

// toDeliveryResponse renders d for viewer. Only the client sees the handoff
// code; the driver learns it from the recipient at the destination.
func toDeliveryResponse(d *domain.Delivery, viewer domain.Caller) DeliveryResponse {
	resp := DeliveryResponse{
		ID:          d.ID,
		Status:      string(d.Status),
		ClientID:    d.ClientID,
		DriverID:    d.DriverID,
		ConflictID:  d.ConflictID,
		PackageType: d.PackageType,
		Departure:   d.Departure,
		Destination: d.Destination,
		Recipients:  d.Recipients,
		Price:       d.Price,
		CreatedAt:   d.CreatedAt,
		AcceptedAt:  optionalTime(d.AcceptedAt),
		StartedAt:   optionalTime(d.StartedAt),
		EndedAt:     optionalTime(d.EndedAt),
		CancelledAt: optionalTime(d.CancelledAt),
	}
	if viewer.UserID == d.ClientID {
		resp.Code = d.Code
	}
	return resp
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Create handles POST /v1/deliveries
func (h *DeliveryHandler) Create(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req CreateDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	d, err := h.deliveries.Create(c.Request.Context(), cl, service.CreateDeliveryRequest{
		PackageType: req.PackageType,
		Departure:   req.Departure,
		Destination: req.Destination,
		Recipients:  req.Recipients,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDeliveryResponse(d, cl))
}

// Get handles GET /v1/deliveries/:id
func (h *DeliveryHandler) Get(c *gin.Context) {
	h.run(c, http.StatusOK, h.deliveries.Get)
}

// Accept handles POST /v1/deliveries/:id/accept
func (h *DeliveryHandler) Accept(c *gin.Context) {
	h.run(c, http.StatusOK, h.deliveries.Accept)
}

// SignalArrival handles POST /v1/deliveries/:id/arrival
func (h *DeliveryHandler) SignalArrival(c *gin.Context) {
	h.run(c, http.StatusOK, h.deliveries.SignalArrival)
}

// ConfirmDeposit handles POST /v1/deliveries/:id/confirm
func (h *DeliveryHandler) ConfirmDeposit(c *gin.Context) {
	h.run(c, http.StatusOK, h.deliveries.ConfirmDeposit)
}

// Cancel handles POST /v1/deliveries/:id/cancel
func (h *DeliveryHandler) Cancel(c *gin.Context) {
	h.run(c, http.StatusOK, h.deliveries.Cancel)
}

// Terminate handles POST /v1/deliveries/:id/terminate
func (h *DeliveryHandler) Terminate(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req TerminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	d, err := h.deliveries.Terminate(c.Request.Context(), cl, c.Param("id"), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDeliveryResponse(d, cl))
}

type deliveryAction func(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)

func (h *DeliveryHandler) run(c *gin.Context, code int, action deliveryAction) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	d, err := action(c.Request.Context(), cl, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, code, toDeliveryResponse(d, cl))
}
