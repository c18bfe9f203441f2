package repository

import (
	"context"
	"time"

	"delivery/internal/domain"
)

// DeliveryRepository defines the persistence operations for deliveries.
// Every status change is a conditional update keyed on the expected prior
// state and returns ErrStateChanged when that state no longer holds.
type DeliveryRepository interface {
	// Create persists a new delivery.
	Create(ctx context.Context, d *domain.Delivery) error

	// GetByID retrieves a delivery by ID.
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)

	// GetActiveByDriverID retrieves the non-final delivery a driver carries:
	// the assigned driver's, unless an opened conflict on it has been handed
	// to a backup driver, in which case it belongs to that assignee.
	// Returns nil if no active delivery exists.
	GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Delivery, error)

	// Assign sets the driver and moves initial -> pendingReception, provided
	// the delivery is still initial with no driver.
	Assign(ctx context.Context, id, driverID string, at time.Time) error

	// Transition moves the delivery from -> to and stamps the timestamp that
	// belongs to the target status.
	Transition(ctx context.Context, id string, from, to domain.DeliveryStatus, at time.Time) error

	// OpenConflict moves the delivery to inConflict and links conflictID,
	// provided its status is one of from and no conflict is linked.
	OpenConflict(ctx context.Context, id, conflictID string, from []domain.DeliveryStatus) error

	// ResumeFromConflict moves inConflict -> started. When unlink is true the
	// conflict reference is cleared.
	ResumeFromConflict(ctx context.Context, id string, unlink bool, at time.Time) error

	// ListExpired returns initial deliveries created before the cutoff.
	ListExpired(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Delivery, error)
}
