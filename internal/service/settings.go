package service

import (
	"context"
	"sync"
	"time"

	"delivery/internal/domain"
)

// Defaults applied when no runtime value is configured.
const (
	DefaultTTL          = 180 * time.Second
	DefaultSearchRadius = 5500.0 // meters
)

// StaticSettings is an in-process SettingsProvider for tests and for
// deployments without Redis.
type StaticSettings struct {
	mu sync.RWMutex
	s  domain.Settings
}

// NewStaticSettings creates a StaticSettings.
func NewStaticSettings(s domain.Settings) *StaticSettings {
	return &StaticSettings{s: s}
}

// Settings implements SettingsProvider.
func (p *StaticSettings) Settings(context.Context) (domain.Settings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s, nil
}

// Update replaces the settings.
func (p *StaticSettings) Update(_ context.Context, s domain.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s = s
	return nil
}

// SettingsStore is a SettingsProvider that can be changed at runtime.
type SettingsStore interface {
	SettingsProvider
	Update(ctx context.Context, s domain.Settings) error
}

// SettingsService reads and changes the runtime dispatch settings.
type SettingsService struct {
	store SettingsStore
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Get returns the current settings.
func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	st, err := s.store.Settings(ctx)
	if err != nil {
		return domain.Settings{}, internal("settings.get", err)
	}
	return st, nil
}

// Update replaces the settings. Admins only.
func (s *SettingsService) Update(ctx context.Context, caller domain.Caller, st domain.Settings) (domain.Settings, error) {
	const op = "settings.update"
	if caller.Role != domain.RoleAdmin {
		return domain.Settings{}, fail(op, KindForbiddenAccess)
	}
	if st.TTL < time.Second || st.SearchRadius <= 0 {
		return domain.Settings{}, invalid(op, "ttl and search_radius must be positive")
	}
	if err := s.store.Update(ctx, st); err != nil {
		return domain.Settings{}, internal(op, err)
	}
	return st, nil
}
