package domain

import "time"

// Settings are the runtime-mutable dispatch settings.
type Settings struct {
	TTL          time.Duration // acceptance window of an unassigned delivery
	SearchRadius float64       // meters
}
