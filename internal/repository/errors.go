package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStateChanged is returned when a conditional update matched no row
	// because the entity is no longer in the expected state.
	ErrStateChanged = errors.New("entity state changed")

	// ErrDuplicate is returned when a uniqueness rule is violated.
	ErrDuplicate = errors.New("duplicate entity")
)
