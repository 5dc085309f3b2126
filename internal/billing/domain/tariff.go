package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultVATRate is the Swedish standard VAT rate.
var DefaultVATRate = decimal.RequireFromString("0.25")

// TariffSchedule holds the rates in effect over [EffectiveFrom, EffectiveTo).
// A zero EffectiveTo means open ended. All amounts are ex VAT.
type TariffSchedule struct {
	EffectiveFrom time.Time
	EffectiveTo   time.Time

	RetailerMarkupPerKWh      decimal.Decimal
	RetailerSubscriptionMonth decimal.Decimal
	GridTransferPerKWh        decimal.Decimal
	GridEnergyTaxPerKWh       decimal.Decimal
	GridSubscriptionMonth     decimal.Decimal
	VATRate                   decimal.Decimal
}

// OpenEnded reports whether the schedule has no end.
func (s TariffSchedule) OpenEnded() bool { return s.EffectiveTo.IsZero() }

// Covers reports whether at falls inside the schedule.
func (s TariffSchedule) Covers(at time.Time) bool {
	if at.Before(s.EffectiveFrom) {
		return false
	}
	return s.OpenEnded() || at.Before(s.EffectiveTo)
}

func (s TariffSchedule) validate() error {
	if s.EffectiveFrom.IsZero() {
		return configurationError("tariff schedule without effective_from")
	}
	if !s.OpenEnded() && !s.EffectiveTo.After(s.EffectiveFrom) {
		return configurationError("tariff schedule from %s ends before it starts", s.EffectiveFrom.Format(time.RFC3339))
	}
	if s.VATRate.IsNegative() || s.VATRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return configurationError("vat rate %s out of range", s.VATRate)
	}
	for _, fee := range []decimal.Decimal{
		s.RetailerMarkupPerKWh, s.RetailerSubscriptionMonth,
		s.GridTransferPerKWh, s.GridEnergyTaxPerKWh, s.GridSubscriptionMonth,
	} {
		if fee.IsNegative() {
			return configurationError("tariff schedule from %s has a negative fee", s.EffectiveFrom.Format(time.RFC3339))
		}
	}
	return nil
}

// TariffTable is an immutable, ordered set of non-overlapping schedules.
type TariffTable struct {
	schedules []TariffSchedule
}

// NewTariffTable sorts and validates schedules. Overlaps are rejected.
func NewTariffTable(schedules []TariffSchedule) (*TariffTable, error) {
	if len(schedules) == 0 {
		return nil, configurationError("tariff table is empty")
	}
	sorted := make([]TariffSchedule, len(schedules))
	copy(sorted, schedules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom) })
	for i, s := range sorted {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.OpenEnded() || prev.EffectiveTo.After(s.EffectiveFrom) {
			return nil, configurationError("tariff schedules starting %s and %s overlap",
				prev.EffectiveFrom.Format(time.RFC3339), s.EffectiveFrom.Format(time.RFC3339))
		}
	}
	return &TariffTable{schedules: sorted}, nil
}

// Resolve finds the schedule covering at. Hours before the first schedule or
// inside a gap fail with a configuration error.
func (t *TariffTable) Resolve(at time.Time) (TariffSchedule, error) {
	idx := sort.Search(len(t.schedules), func(i int) bool {
		return t.schedules[i].EffectiveFrom.After(at)
	})
	if idx == 0 {
		return TariffSchedule{}, configurationError("no tariff schedule covers %s", at.Format(time.RFC3339))
	}
	s := t.schedules[idx-1]
	if !s.Covers(at) {
		return TariffSchedule{}, configurationError("no tariff schedule covers %s", at.Format(time.RFC3339))
	}
	return s, nil
}

// Schedules returns a copy in effective order.
func (t *TariffTable) Schedules() []TariffSchedule {
	out := make([]TariffSchedule, len(t.schedules))
	copy(out, t.schedules)
	return out
}

// TariffBook is the base tariff table plus optional per-zone override tables.
type TariffBook struct {
	base  *TariffTable
	zones map[string]*TariffTable
}

// NewTariffBook validates the base table and every override table.
func NewTariffBook(base []TariffSchedule, overrides map[string][]TariffSchedule) (*TariffBook, error) {
	baseTable, err := NewTariffTable(base)
	if err != nil {
		return nil, err
	}
	book := &TariffBook{base: baseTable, zones: make(map[string]*TariffTable, len(overrides))}
	for zoneID, schedules := range overrides {
		table, err := NewTariffTable(schedules)
		if err != nil {
			return nil, configurationError("zone %s: %v", zoneID, err)
		}
		book.zones[zoneID] = table
	}
	return book, nil
}

// Resolve returns the zone's override when one exists, else the base table's schedule.
func (b *TariffBook) Resolve(zoneID string, at time.Time) (TariffSchedule, error) {
	if table, ok := b.zones[zoneID]; ok {
		return table.Resolve(at)
	}
	return b.base.Resolve(at)
}

// ResolveBase resolves against the building-level table. Fixed subscriptions use it.
func (b *TariffBook) ResolveBase(at time.Time) (TariffSchedule, error) {
	return b.base.Resolve(at)
}

// Base exposes the building-level table.
func (b *TariffBook) Base() *TariffTable { return b.base }
