package service

import (
	"context"
	"time"

	"delivery/internal/domain"
)

// DriverFinder returns candidate drivers around a point. Distance and
// availability filtering are its business.
type DriverFinder interface {
	FindNearbyDrivers(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.DriverPosition, error)
}

// DriverAvailability flags drivers engaged in a delivery so the finder
// skips them.
type DriverAvailability interface {
	MarkBusy(ctx context.Context, driverID string) error
	MarkAvailable(ctx context.Context, driverID string) error
}

// LocationStore holds the last known driver positions.
type LocationStore interface {
	DriverFinder
	DriverAvailability
	UpdateLocation(ctx context.Context, driverID string, p domain.GeoPoint) error
	GetLocation(ctx context.Context, driverID string) (*domain.GeoPoint, error)
	RemoveLocation(ctx context.Context, driverID string) error
}

// DriverLocker serializes the accept calls of one driver.
type DriverLocker interface {
	AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// SettingsProvider exposes the runtime dispatch settings. Implementations
// are read on every call, never cached by the services.
type SettingsProvider interface {
	Settings(ctx context.Context) (domain.Settings, error)
}

// TransitionRecorder counts committed delivery transitions.
type TransitionRecorder interface {
	DeliveryTransition(to string)
}

type nopTransitions struct{}

func (nopTransitions) DeliveryTransition(string) {}
