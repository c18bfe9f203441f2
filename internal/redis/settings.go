package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"delivery/internal/domain"
)

const (
	settingsKey         = "settings:dispatch"
	settingsTTLField    = "ttl"
	settingsRadiusField = "search_radius"
)

// SettingsStore keeps the runtime dispatch settings in a Redis hash. Missing
// or malformed fields fall back to the configured defaults.
type SettingsStore struct {
	client   *redis.Client
	defaults domain.Settings
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(client *redis.Client, defaults domain.Settings) *SettingsStore {
	return &SettingsStore{client: client, defaults: defaults}
}

// Settings reads the current settings.
func (s *SettingsStore) Settings(ctx context.Context) (domain.Settings, error) {
	values, err := s.client.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return domain.Settings{}, err
	}

	out := s.defaults
	if v, ok := values[settingsTTLField]; ok {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			out.TTL = time.Duration(secs) * time.Second
		}
	}
	if v, ok := values[settingsRadiusField]; ok {
		if meters, err := strconv.ParseFloat(v, 64); err == nil && meters > 0 {
			out.SearchRadius = meters
		}
	}
	return out, nil
}

// Update overwrites the settings. TTL is stored in whole seconds.
func (s *SettingsStore) Update(ctx context.Context, st domain.Settings) error {
	return s.client.HSet(ctx, settingsKey,
		settingsTTLField, strconv.FormatInt(int64(st.TTL/time.Second), 10),
		settingsRadiusField, strconv.FormatFloat(st.SearchRadius, 'f', -1, 64),
	).Err()
}
