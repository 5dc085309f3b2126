package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type aggregateFixture struct {
	input AggregateInput
}

func newAggregateFixture(t *testing.T) aggregateFixture {
	t.Helper()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := hoursFrom(start, 2)
	policy := DefaultRepairPolicy()
	zones := []Zone{
		{ID: "home", Name: "Home", Sensor: "s.home", Kind: ZoneMetered},
		{ID: "guest", Name: "Guest house", Sensor: "s.guest", Kind: ZoneMetered},
		{ID: "garage", Name: "Garage", Sensor: "s.garage", Kind: ZoneMetered},
	}
	series := []RepairedSeries{
		RepairSeries("home", []RawSample{{Hour: grid[0], KWh: 3}, {Hour: grid[1], KWh: 1}}, grid, policy),
		RepairSeries("guest", flatSamples(grid, 1), grid, policy),
		RepairSeries("garage", nil, grid, policy),
	}
	prices := NewPriceIndex([]PriceSample{{Hour: grid[0], SpotPerKWh: 1}, {Hour: grid[1], SpotPerKWh: 3}})
	schedule := homeSchedule(start)
	table, err := ComposeTable(grid, series, prices, mustBook(t, schedule))
	require.NoError(t, err)

	return aggregateFixture{input: AggregateInput{
		Period:     Period{Month: Month{Year: 2025, Month: time.January}, Location: time.UTC, Start: start, End: grid[1].Add(time.Hour)},
		Zones:      zones,
		Series:     series,
		Table:      table,
		Fixed:      schedule,
		Allocation: threeZonePolicy(),
	}}
}

func TestAggregateReconciles(t *testing.T) {
	f := newAggregateFixture(t)

	report, err := Aggregate(f.input)
	require.NoError(t, err)

	zoneSum := decimal.Zero
	fixedSum := decimal.Zero
	for _, z := range report.Zones {
		zoneSum = zoneSum.Add(z.TotalInclVAT)
		requireDecimal(t, z.Retailer.Settled.TotalInclVAT.Add(z.Grid.Settled.TotalInclVAT).String(), z.TotalInclVAT)
		for _, c := range z.Charges {
			fixedSum = fixedSum.Add(c.AmountExVAT)
		}
		for _, c := range z.Contributions {
			fixedSum = fixedSum.Add(c.AmountExVAT)
		}
	}
	requireDecimal(t, zoneSum.String(), report.Building.TotalInclVAT)
	requireDecimal(t, "844.20", fixedSum)
	requireDecimal(t, report.Building.Retailer.TotalInclVAT.Add(report.Building.Grid.TotalInclVAT).String(), report.Building.TotalInclVAT)
}

func TestAggregateWeightsAverageSpotByConsumption(t *testing.T) {
	f := newAggregateFixture(t)

	report, err := Aggregate(f.input)
	require.NoError(t, err)

	// home 3 kWh at 1 + 1 kWh at 3, guest 1 kWh at each price
	require.NotNil(t, report.AverageSpotPerKWh)
	assert.InDelta(t, 10.0/6.0, report.AverageSpotPerKWh.InexactFloat64(), 1e-9)
	assert.Equal(t, 6.0, report.Building.PricedConsumptionKWh)
	assert.Equal(t, 1.0, report.PricedCoverage)
	require.NotNil(t, report.AverageEffectivePerKWh)
	present := report.Building.TotalInclVAT.Sub(report.Building.AbsentZoneFixed)
	assert.InDelta(t, present.InexactFloat64()/6.0, report.AverageEffectivePerKWh.InexactFloat64(), 1e-9)
}

func TestAggregateSeparatesContributions(t *testing.T) {
	f := newAggregateFixture(t)

	report, err := Aggregate(f.input)
	require.NoError(t, err)

	home, ok := report.Zone("home")
	require.True(t, ok)
	assert.Empty(t, home.Contributions)
	requireDecimal(t, "402.50", home.Grid.Subscription)
	requireDecimal(t, "19.60", home.Retailer.Subscription)

	guest, _ := report.Zone("guest")
	assert.Empty(t, guest.Charges)
	require.Len(t, guest.Contributions, 2)
	requireDecimal(t, "241.50", guest.Grid.Contribution)
	requireDecimal(t, "11.76", guest.Retailer.Contribution)
	assert.True(t, guest.Grid.Subscription.IsZero())
}

func TestAggregateReportsAbsentZone(t *testing.T) {
	f := newAggregateFixture(t)

	report, err := Aggregate(f.input)
	require.NoError(t, err)

	garage, ok := report.Zone("garage")
	require.True(t, ok)
	assert.True(t, garage.Absent)
	assert.Zero(t, garage.ConsumptionKWh)
	assert.True(t, garage.Retailer.Spot.IsZero())
	// fixed share is still owed: (7.84 + 161.00) * 1.25
	requireDecimal(t, "211.05", garage.TotalInclVAT)
	requireDecimal(t, "211.05", report.Building.AbsentZoneFixed)
	assert.Len(t, report.Lines, 4)
}

func TestAggregateWithoutAnyDataFails(t *testing.T) {
	f := newAggregateFixture(t)
	for i := range f.input.Series {
		f.input.Series[i] = RepairedSeries{ZoneID: f.input.Zones[i].ID, Absent: true}
		f.input.Table.Lines[i] = nil
	}

	_, err := Aggregate(f.input)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestAggregateBeforeFirstHourEndsIsEmptyInProgress(t *testing.T) {
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	zones := []Zone{
		{ID: "home", Name: "Home", Sensor: "s.home", Kind: ZoneMetered},
		{ID: "guest", Name: "Guest house", Sensor: "s.guest", Kind: ZoneMetered},
		{ID: "garage", Name: "Garage", Sensor: "s.garage", Kind: ZoneMetered},
	}
	series := make([]RepairedSeries, len(zones))
	for i, z := range zones {
		series[i] = RepairSeries(z.ID, nil, nil, DefaultRepairPolicy())
	}
	schedule := homeSchedule(start)
	table, err := ComposeTable(nil, series, NewPriceIndex(nil), mustBook(t, schedule))
	require.NoError(t, err)

	report, err := Aggregate(AggregateInput{
		Period:     Period{Month: Month{Year: 2025, Month: time.February}, Location: time.UTC, Start: start, End: start, InProgress: true},
		Zones:      zones,
		Series:     series,
		Table:      table,
		Fixed:      schedule,
		Allocation: threeZonePolicy(),
	})

	require.NoError(t, err)
	assert.True(t, report.Period.InProgress)
	assert.Zero(t, report.TotalHours)
	assert.Zero(t, report.PricedCoverage)
	assert.Nil(t, report.AverageSpotPerKWh)
	assert.Empty(t, report.Lines)
	for _, z := range report.Zones {
		assert.True(t, z.Absent)
	}
}

func TestAggregateCountsUnpricedConsumption(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := hoursFrom(start, 4)
	series := RepairSeries("home", flatSamples(grid, 2), grid, DefaultRepairPolicy())
	prices := NewPriceIndex(flatPrices(grid[:3], 1))
	schedule := homeSchedule(start)
	table, err := ComposeTable(grid, []RepairedSeries{series}, prices, mustBook(t, schedule))
	require.NoError(t, err)

	report, err := Aggregate(AggregateInput{
		Zones:      []Zone{{ID: "home", Sensor: "s", Kind: ZoneMetered}},
		Series:     []RepairedSeries{series},
		Table:      table,
		Fixed:      schedule,
		Allocation: AllocationPolicy{HomeZoneID: "home", Rules: []ZoneAllocationRule{{ZoneID: "home", SubscriptionShare: 1}}},
	})
	require.NoError(t, err)

	home := report.Zones[0]
	assert.Equal(t, 8.0, home.ConsumptionKWh)
	assert.Equal(t, 6.0, home.PricedConsumptionKWh)
	assert.Equal(t, 1, home.UnpricedHours)
	requireDecimal(t, "6", home.Retailer.Spot)
	assert.InDelta(t, 0.75, report.PricedCoverage, 1e-12)
}
