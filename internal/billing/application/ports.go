package application

import (
	"context"
	"time"

	billing "home-analytics/internal/billing/domain"
)

// ReadingSource returns hourly consumption of a zone in [start, end).
type ReadingSource interface {
	FetchHourlyConsumption(ctx context.Context, zone billing.Zone, start, end time.Time) ([]billing.RawSample, error)
}

// BuildingMeterSource returns hourly consumption of the whole-building meter.
type BuildingMeterSource interface {
	FetchBuildingConsumption(ctx context.Context, sensor string, start, end time.Time) ([]billing.RawSample, error)
}

// PriceSource returns hourly spot prices ex VAT in [start, end).
type PriceSource interface {
	FetchHourlyPrices(ctx context.Context, start, end time.Time) ([]billing.PriceSample, error)
}

// MeterSource returns the first and last cumulative readings of a zone inside [start, end).
type MeterSource interface {
	FetchMeterWindow(ctx context.Context, zone billing.Zone, start, end time.Time) (billing.MeterWindow, error)
}

// SettingsProvider hands out the current settings snapshot.
type SettingsProvider interface {
	Current() *billing.Settings
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
