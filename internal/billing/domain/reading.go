package billing

import (
	"math"
	"time"
)

// RawSample is one hourly consumption value as delivered by a source.
// Samples may be sparse, duplicated, or implausible.
type RawSample struct {
	Hour time.Time
	KWh  float64
}

// HourlyReading is a repaired consumption value. Immutable once built.
type HourlyReading struct {
	ZoneID         string
	Hour           time.Time
	ConsumptionKWh float64
	Estimated      bool
}

// PriceSample is the hourly spot price ex VAT. Negative values are valid.
type PriceSample struct {
	Hour       time.Time
	SpotPerKWh float64
}

// PriceIndex resolves the spot price of an hour.
type PriceIndex struct {
	prices map[int64]float64
}

// NewPriceIndex keeps exactly one price per hour. Hours with conflicting
// duplicates or non-finite values are dropped and count as missing.
func NewPriceIndex(samples []PriceSample) PriceIndex {
	prices := make(map[int64]float64, len(samples))
	conflicted := make(map[int64]struct{})
	for _, s := range samples {
		if math.IsNaN(s.SpotPerKWh) || math.IsInf(s.SpotPerKWh, 0) {
			continue
		}
		key := HourKey(s.Hour)
		if _, bad := conflicted[key]; bad {
			continue
		}
		if prev, ok := prices[key]; ok && prev != s.SpotPerKWh {
			delete(prices, key)
			conflicted[key] = struct{}{}
			continue
		}
		prices[key] = s.SpotPerKWh
	}
	return PriceIndex{prices: prices}
}

// Lookup returns the price for hour and whether one exists.
func (p PriceIndex) Lookup(hour time.Time) (float64, bool) {
	v, ok := p.prices[HourKey(hour)]
	return v, ok
}

func (p PriceIndex) Len() int { return len(p.prices) }

// MeterWindow holds the first and last cumulative meter readings inside a month.
// Nil means the month has no reading.
type MeterWindow struct {
	Opening *float64
	Closing *float64
}

// ZoneKind tells how a zone's consumption is obtained.
type ZoneKind string

const (
	// ZoneMetered zones have their own sensor.
	ZoneMetered ZoneKind = "metered"
	// ZoneRemainder zones are the building meter minus all metered zones.
	ZoneRemainder ZoneKind = "remainder"
)

// Zone is a metered area of the property.
type Zone struct {
	ID     string
	Name   string
	Sensor string
	Kind   ZoneKind
}
