package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryStatus represents the current status of a delivery.
type DeliveryStatus string

const (
	DeliveryStatusInitial          DeliveryStatus = "initial"
	DeliveryStatusPendingReception DeliveryStatus = "pendingReception"
	DeliveryStatusToBeConfirmed    DeliveryStatus = "toBeConfirmed"
	DeliveryStatusStarted          DeliveryStatus = "started"
	DeliveryStatusInConflict       DeliveryStatus = "inConflict"
	DeliveryStatusTerminated       DeliveryStatus = "terminated"
	DeliveryStatusCancelled        DeliveryStatus = "cancelled"
)

// deliveryTransitions is the allowed transition graph. Terminated and
// cancelled are absorbing.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusInitial:          {DeliveryStatusPendingReception, DeliveryStatusCancelled},
	DeliveryStatusPendingReception: {DeliveryStatusToBeConfirmed, DeliveryStatusInConflict, DeliveryStatusCancelled},
	DeliveryStatusToBeConfirmed:    {DeliveryStatusStarted, DeliveryStatusInConflict, DeliveryStatusCancelled},
	DeliveryStatusStarted:          {DeliveryStatusTerminated, DeliveryStatusInConflict},
	DeliveryStatusInConflict:       {DeliveryStatusStarted},
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusInitial, DeliveryStatusPendingReception, DeliveryStatusToBeConfirmed,
		DeliveryStatusStarted, DeliveryStatusInConflict, DeliveryStatusTerminated, DeliveryStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the graph allows s -> next.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOngoing reports whether a driver is engaged and the delivery is not finished.
// A delivery in conflict is not ongoing.
func (s DeliveryStatus) IsOngoing() bool {
	return s == DeliveryStatusPendingReception || s == DeliveryStatusToBeConfirmed || s == DeliveryStatusStarted
}

// IsFinal reports whether s is absorbing.
func (s DeliveryStatus) IsFinal() bool {
	return s == DeliveryStatusTerminated || s == DeliveryStatusCancelled
}

// OngoingStatuses lists the statuses in which a conflict can be reported.
func OngoingStatuses() []DeliveryStatus {
	return []DeliveryStatus{DeliveryStatusPendingReception, DeliveryStatusToBeConfirmed, DeliveryStatusStarted}
}

// Place is a geo point with free-text address metadata.
type Place struct {
	Point   GeoPoint `json:"point"`
	Address string   `json:"address"`
	Details string   `json:"details,omitempty"`
}

// Recipient is a person receiving the package, optionally linked to a user.
type Recipient struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	UserID string `json:"userId,omitempty"`
}

// Recipients holds the primary recipient and any secondary ones.
type Recipients struct {
	Main   Recipient   `json:"main"`
	Others []Recipient `json:"others,omitempty"`
}

// Delivery is a request to move a package from Departure to Destination.
type Delivery struct {
	ID          string
	ClientID    string
	DriverID    string // empty until a driver accepts
	ConflictID  string // set while a conflict is open
	Status      DeliveryStatus
	Code        string // handoff code, fixed at creation
	PackageType string
	Departure   Place
	Destination Place
	Recipients  Recipients
	Price       decimal.Decimal
	Candidates  []string // drivers notified of the offer
	CreatedAt   time.Time
	AcceptedAt  time.Time
	StartedAt   time.Time
	EndedAt     time.Time
	CancelledAt time.Time
}

// IsParticipant reports whether userID is the client or the assigned driver.
func (d *Delivery) IsParticipant(userID string) bool {
	return userID != "" && (userID == d.ClientID || userID == d.DriverID)
}

// ExpiresAt returns the end of the acceptance window for the given ttl.
func (d *Delivery) ExpiresAt(ttl time.Duration) time.Time {
	return d.CreatedAt.Add(ttl)
}
