package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"delivery/internal/domain"
)

// ProfileCacheTTL bounds how stale a cached push token can be.
const ProfileCacheTTL = 5 * time.Minute

const profileCachePrefix = "cache:profile:"

// CachedProfile is the part of a user profile the notification path needs.
type CachedProfile struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Language  string `json:"language"`
	PushToken string `json:"push_token"`
}

// CacheStore handles profile caching in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client, ttl: ProfileCacheTTL}
}

// GetProfile returns a cached profile, or nil on a cache miss.
func (s *CacheStore) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	data, err := s.client.Get(ctx, profileCachePrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached CachedProfile
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &domain.User{
		ID:        cached.ID,
		Role:      domain.Role(cached.Role),
		Language:  cached.Language,
		PushToken: cached.PushToken,
	}, nil
}

// SetProfile stores the notification-relevant part of a profile.
func (s *CacheStore) SetProfile(ctx context.Context, user *domain.User) error {
	data, err := json.Marshal(CachedProfile{
		ID:        user.ID,
		Role:      string(user.Role),
		Language:  user.Language,
		PushToken: user.PushToken,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, profileCachePrefix+user.ID, data, s.ttl).Err()
}

// InvalidateProfile removes a profile from cache.
func (s *CacheStore) InvalidateProfile(ctx context.Context, userID string) error {
	return s.client.Del(ctx, profileCachePrefix+userID).Err()
}
