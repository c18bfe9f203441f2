package service

import (
	"time"

	"github.com/shopspring/decimal"

	"delivery/internal/domain"
)

// DeliverySummary is the live payload describing a delivery. It never
// carries the handoff code.
type DeliverySummary struct {
	ID          string            `json:"id"`
	ClientID    string            `json:"clientId"`
	DriverID    string            `json:"driverId,omitempty"`
	Status      string            `json:"status"`
	PackageType string            `json:"packageType"`
	Departure   domain.Place      `json:"departure"`
	Destination domain.Place      `json:"destination"`
	Recipients  domain.Recipients `json:"recipients"`
	Price       decimal.Decimal   `json:"price"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func summarize(d *domain.Delivery) DeliverySummary {
	return DeliverySummary{
		ID:          d.ID,
		ClientID:    d.ClientID,
		DriverID:    d.DriverID,
		Status:      string(d.Status),
		PackageType: d.PackageType,
		Departure:   d.Departure,
		Destination: d.Destination,
		Recipients:  d.Recipients,
		Price:       d.Price,
		CreatedAt:   d.CreatedAt,
	}
}

// DriverInfo identifies the driver who accepted.
type DriverInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// AcceptedPayload is sent with delivery-accepted.
type AcceptedPayload struct {
	DeliveryID string     `json:"deliveryId"`
	Driver     DriverInfo `json:"driver"`
}

// DeliveryRef is the payload of events that only name the delivery.
type DeliveryRef struct {
	DeliveryID string `json:"deliveryId"`
}

// PointsPayload is sent with point-withdrawn.
type PointsPayload struct {
	DriverID   string `json:"driverId"`
	DeliveryID string `json:"deliveryId"`
	Points     int64  `json:"points"`
	Balance    int64  `json:"balance"`
}

// ConflictSummary is the live payload describing a conflict.
type ConflictSummary struct {
	ID           string          `json:"id"`
	DeliveryID   string          `json:"deliveryId"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	ReporterID   string          `json:"reporterId"`
	AssignerID   string          `json:"assignerId,omitempty"`
	AssigneeID   string          `json:"assigneeId,omitempty"`
	LastLocation domain.GeoPoint `json:"lastLocation"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func summarizeConflict(c *domain.Conflict) ConflictSummary {
	return ConflictSummary{
		ID:           c.ID,
		DeliveryID:   c.DeliveryID,
		Status:       string(c.Status),
		Type:         c.Type,
		ReporterID:   c.ReporterID,
		AssignerID:   c.AssignerID,
		AssigneeID:   c.AssigneeID,
		LastLocation: c.LastLocation,
		CreatedAt:    c.CreatedAt,
	}
}

// ConflictPayload is sent with new-conflict and new-assignment.
type ConflictPayload struct {
	Conflict ConflictSummary `json:"conflict"`
	Delivery DeliverySummary `json:"delivery"`
}

// ConflictRef is the payload of events that only name the conflict.
type ConflictRef struct {
	ConflictID string `json:"conflictId"`
	DeliveryID string `json:"deliveryId"`
}

// PositionPayload is sent with new-position.
type PositionPayload struct {
	DeliveryID string  `json:"deliveryId"`
	DriverID   string  `json:"driverId"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}
