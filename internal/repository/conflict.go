package repository

import (
	"context"
	"time"

	"delivery/internal/domain"
)

// ConflictRepository defines the persistence operations for conflicts.
type ConflictRepository interface {
	// Create persists a new conflict. Returns ErrDuplicate if the delivery
	// already has an opened conflict.
	Create(ctx context.Context, c *domain.Conflict) error

	// GetByID retrieves a conflict by ID.
	GetByID(ctx context.Context, id string) (*domain.Conflict, error)

	// GetOpenByDeliveryID retrieves the opened conflict of a delivery.
	// Returns nil if there is none.
	GetOpenByDeliveryID(ctx context.Context, deliveryID string) (*domain.Conflict, error)

	// Assign sets assigner and assignee together, provided the conflict is
	// opened and unassigned.
	Assign(ctx context.Context, id, assignerID, assigneeID string, at time.Time) error

	// Close moves an opened conflict to status (closed or cancelled).
	Close(ctx context.Context, id string, status domain.ConflictStatus, at time.Time) error

	// ListUnassigned returns one page of opened, unassigned conflicts, oldest
	// first, and the total count.
	ListUnassigned(ctx context.Context, offset, limit int) ([]*domain.Conflict, int, error)
}
