package domain

import "time"

// ConflictStatus represents the current status of a conflict.
type ConflictStatus string

const (
	ConflictStatusOpened    ConflictStatus = "opened"
	ConflictStatusClosed    ConflictStatus = "closed"
	ConflictStatusCancelled ConflictStatus = "cancelled"
)

// Conflict is an escalation raised against an ongoing delivery.
type Conflict struct {
	ID           string
	DeliveryID   string
	Status       ConflictStatus
	Type         string
	ReporterID   string
	AssignerID   string // operator who assigned a backup driver
	AssigneeID   string // backup driver
	LastLocation GeoPoint
	CreatedAt    time.Time
	AssignedAt   time.Time
	ClosedAt     time.Time
}

// IsAssigned reports whether a backup driver has been assigned.
func (c *Conflict) IsAssigned() bool {
	return c.AssignerID != "" || c.AssigneeID != ""
}
