package service

import (
	"context"

	"delivery/internal/domain"
	"delivery/internal/events"
	"delivery/internal/logx"
	"delivery/internal/repository"
)

// DriverService handles driver positions.
type DriverService struct {
	locationStore LocationStore
	store         repository.Store
	publisher     events.Publisher
	log           logx.Logger
}

// NewDriverService creates a new DriverService.
func NewDriverService(
	locationStore LocationStore,
	store repository.Store,
	publisher events.Publisher,
	log logx.Logger,
) *DriverService {
	if log == nil {
		log = logx.Nop()
	}
	return &DriverService{
		locationStore: locationStore,
		store:         store,
		publisher:     publisher,
		log:           log,
	}
}

// UpdateLocation stores the driver's position in the geo index and streams
// it to the client of the driver's active delivery, if any.
func (s *DriverService) UpdateLocation(ctx context.Context, caller domain.Caller, p domain.GeoPoint) error {
	const op = "driver.update_location"

	if caller.Role != domain.RoleDriver || caller.UserID == "" {
		return fail(op, KindForbiddenAccess)
	}
	if !p.Valid() {
		return fail(op, KindInvalidLocation)
	}

	if err := s.locationStore.UpdateLocation(ctx, caller.UserID, p); err != nil {
		s.log.Error("update driver location", logx.String("driver_id", caller.UserID), logx.Err(err))
		return internal(op, err)
	}

	active, err := s.store.Deliveries().GetActiveByDriverID(ctx, caller.UserID)
	if err != nil {
		// The position is stored; streaming is best-effort.
		s.log.Warn("lookup active delivery", logx.String("driver_id", caller.UserID), logx.Err(err))
		return nil
	}
	if active == nil {
		return nil
	}

	s.publisher.Publish(events.New(events.NewPosition, active.ID,
		events.Parties{ClientID: active.ClientID, DriverID: caller.UserID},
		PositionPayload{DeliveryID: active.ID, DriverID: caller.UserID, Lat: p.Lat, Lng: p.Lng}))
	return nil
}

// SetDriverOffline removes the driver from the geo index so new offers skip
// them.
func (s *DriverService) SetDriverOffline(ctx context.Context, caller domain.Caller) error {
	const op = "driver.offline"

	if caller.Role != domain.RoleDriver || caller.UserID == "" {
		return fail(op, KindForbiddenAccess)
	}

	if err := s.locationStore.RemoveLocation(ctx, caller.UserID); err != nil {
		s.log.Error("remove driver location", logx.String("driver_id", caller.UserID), logx.Err(err))
		return internal(op, err)
	}
	return nil
}
