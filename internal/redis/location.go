package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"delivery/internal/domain"
)

const (
	driverLocationKey = "drivers:locations"
	driverBusyKey     = "drivers:busy"
)

// LocationStore keeps the geo index of driver positions and the set of
// drivers currently engaged in a delivery.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's position using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, p domain.GeoPoint) error {
	return s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// GetLocation returns the last known position of a driver, or nil.
func (s *LocationStore) GetLocation(ctx context.Context, driverID string) (*domain.GeoPoint, error) {
	positions, err := s.client.GeoPos(ctx, driverLocationKey, driverID).Result()
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}
	return &domain.GeoPoint{Lat: positions[0].Latitude, Lng: positions[0].Longitude}, nil
}

// FindNearbyDrivers returns available drivers within radiusMeters of p,
// nearest first. Drivers marked busy are skipped.
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.DriverPosition, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []domain.DriverPosition{}, nil
	}

	ids := make([]interface{}, len(results))
	for i, r := range results {
		ids[i] = r.Name
	}
	busy, err := s.client.SMIsMember(ctx, driverBusyKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	positions := make([]domain.DriverPosition, 0, len(results))
	for i, r := range results {
		if i < len(busy) && busy[i] {
			continue
		}
		positions = append(positions, domain.DriverPosition{
			DriverID: r.Name,
			Point:    domain.GeoPoint{Lat: r.Latitude, Lng: r.Longitude},
		})
	}
	return positions, nil
}

// RemoveLocation removes a driver from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}

// MarkBusy excludes a driver from nearby searches.
func (s *LocationStore) MarkBusy(ctx context.Context, driverID string) error {
	return s.client.SAdd(ctx, driverBusyKey, driverID).Err()
}

// MarkAvailable makes a driver searchable again.
func (s *LocationStore) MarkAvailable(ctx context.Context, driverID string) error {
	return s.client.SRem(ctx, driverBusyKey, driverID).Err()
}
