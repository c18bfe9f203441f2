package repository

import (
	"context"

	"delivery/internal/domain"
)

// UserRepository defines the persistence operations for user profiles.
type UserRepository interface {
	// Create adds a new user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// UpdatePushToken stores the device token used for fallback pushes.
	UpdatePushToken(ctx context.Context, id, token string) error

	// DebitPoints removes points from the user's wallet if the balance allows
	// it and returns the new balance. Returns ErrStateChanged when the
	// balance is insufficient.
	DebitPoints(ctx context.Context, id string, points int64) (int64, error)
}
