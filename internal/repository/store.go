package repository

import "context"

// Store groups the repositories and runs multi-entity changes atomically.
type Store interface {
	Deliveries() DeliveryRepository
	Conflicts() ConflictRepository
	Users() UserRepository

	// WithTx runs fn against a transaction-scoped Store. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
