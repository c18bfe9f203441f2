package redis

import "delivery/internal/service"

// The Redis stores back these service ports.
var (
	_ service.LocationStore = (*LocationStore)(nil)
	_ service.DriverLocker  = (*LockStore)(nil)
	_ service.ProfileCache  = (*CacheStore)(nil)
	_ service.SettingsStore = (*SettingsStore)(nil)
)
