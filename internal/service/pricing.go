package service

import (
	"context"

	"github.com/shopspring/decimal"

	"delivery/internal/domain"
)

// PriceInput is what a Pricer sees of a new delivery.
type PriceInput struct {
	PackageType   string
	Departure     domain.GeoPoint
	Destination   domain.GeoPoint
	NearbyDrivers int
}

// Pricer computes the price of a delivery once, at creation.
type Pricer interface {
	Price(ctx context.Context, in PriceInput) (decimal.Decimal, error)
}

// SurgeConfig raises the price when few drivers are around.
type SurgeConfig struct {
	LowSupply  int             // at or below this many drivers the multiplier applies
	Multiplier decimal.Decimal // e.g. 1.25
}

// DistancePricer charges a base fare per package type plus a per-kilometer
// rate, with a floor.
type DistancePricer struct {
	Base    map[string]decimal.Decimal
	PerKm   decimal.Decimal
	Minimum decimal.Decimal
	Surge   SurgeConfig
}

// DefaultPricer returns the default tariff.
func DefaultPricer() *DistancePricer {
	return &DistancePricer{
		Base: map[string]decimal.Decimal{
			"small":   decimal.NewFromInt(500),
			"medium":  decimal.NewFromInt(1000),
			"large":   decimal.NewFromInt(2000),
			"fragile": decimal.NewFromInt(1500),
		},
		PerKm:   decimal.NewFromInt(150),
		Minimum: decimal.NewFromInt(500),
		Surge: SurgeConfig{
			LowSupply:  1,
			Multiplier: decimal.RequireFromString("1.25"),
		},
	}
}

// Price implements Pricer.
func (p *DistancePricer) Price(_ context.Context, in PriceInput) (decimal.Decimal, error) {
	base, ok := p.Base[in.PackageType]
	if !ok {
		base = p.Minimum
	}

	km := decimal.NewFromFloat(domain.DistanceMeters(in.Departure, in.Destination) / 1000)
	price := base.Add(p.PerKm.Mul(km))

	if p.Surge.LowSupply > 0 && in.NearbyDrivers <= p.Surge.LowSupply && p.Surge.Multiplier.GreaterThan(decimal.NewFromInt(1)) {
		price = price.Mul(p.Surge.Multiplier)
	}

	if price.LessThan(p.Minimum) {
		price = p.Minimum
	}
	return price.Round(0), nil
}
