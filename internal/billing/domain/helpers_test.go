package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func stockholm(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	return loc
}

func hoursFrom(start time.Time, n int) []time.Time {
	return HourGrid(start, start.Add(time.Duration(n)*time.Hour))
}

// gridOnlySchedule has no retailer fees and no subscriptions so tests can
// isolate the grid group.
func gridOnlySchedule(from time.Time) TariffSchedule {
	return TariffSchedule{
		EffectiveFrom:       from,
		GridTransferPerKWh:  dec("0.2456"),
		GridEnergyTaxPerKWh: dec("0.439"),
		VATRate:             DefaultVATRate,
	}
}

func homeSchedule(from time.Time) TariffSchedule {
	return TariffSchedule{
		EffectiveFrom:             from,
		RetailerMarkupPerKWh:      dec("0.068"),
		RetailerSubscriptionMonth: dec("39.20"),
		GridTransferPerKWh:        dec("0.2456"),
		GridEnergyTaxPerKWh:       dec("0.439"),
		GridSubscriptionMonth:     dec("805.00"),
		VATRate:                   DefaultVATRate,
	}
}

func mustBook(t *testing.T, schedules ...TariffSchedule) *TariffBook {
	t.Helper()
	book, err := NewTariffBook(schedules, nil)
	require.NoError(t, err)
	return book
}

func flatSamples(hours []time.Time, kwh float64) []RawSample {
	out := make([]RawSample, len(hours))
	for i, h := range hours {
		out[i] = RawSample{Hour: h, KWh: kwh}
	}
	return out
}

func flatPrices(hours []time.Time, spot float64) []PriceSample {
	out := make([]PriceSample, len(hours))
	for i, h := range hours {
		out[i] = PriceSample{Hour: h, SpotPerKWh: spot}
	}
	return out
}
