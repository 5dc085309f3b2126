package billing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairSeriesInterpolatesInteriorGap(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	raw := []RawSample{{Hour: grid[0], KWh: 10}, {Hour: grid[2], KWh: 14}}

	got := RepairSeries("home", raw, grid, DefaultRepairPolicy())

	require.False(t, got.Absent)
	require.Len(t, got.Readings, 3)
	assert.InDelta(t, 12.0, got.Readings[1].ConsumptionKWh, 1e-9)
	assert.True(t, got.Readings[1].Estimated)
	assert.False(t, got.Readings[0].Estimated)
	assert.False(t, got.Readings[2].Estimated)
	assert.Equal(t, []time.Time{grid[1]}, got.EstimatedHours)
}

func TestRepairSeriesExtrapolatesFlatAtBoundaries(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4)

	t.Run("leading gap", func(t *testing.T) {
		got := RepairSeries("home", []RawSample{{Hour: grid[1], KWh: 5}, {Hour: grid[2], KWh: 6}, {Hour: grid[3], KWh: 7}}, grid, DefaultRepairPolicy())
		assert.InDelta(t, 5.0, got.Readings[0].ConsumptionKWh, 1e-9)
		assert.True(t, got.Readings[0].Estimated)
	})

	t.Run("trailing gap", func(t *testing.T) {
		got := RepairSeries("home", []RawSample{{Hour: grid[0], KWh: 2}, {Hour: grid[1], KWh: 3}}, grid, DefaultRepairPolicy())
		assert.InDelta(t, 3.0, got.Readings[2].ConsumptionKWh, 1e-9)
		assert.InDelta(t, 3.0, got.Readings[3].ConsumptionKWh, 1e-9)
		assert.Len(t, got.EstimatedHours, 2)
	})
}

func TestRepairSeriesRejectsImplausibleValues(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  float64
		policy RepairPolicy
	}{
		{"negative", -1, DefaultRepairPolicy()},
		{"nan", math.NaN(), DefaultRepairPolicy()},
		{"above cap", 40, RepairPolicy{MaxHourlyKWh: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := hoursFrom(start, 3)
			raw := []RawSample{{Hour: grid[0], KWh: 2}, {Hour: grid[1], KWh: tt.value}, {Hour: grid[2], KWh: 4}}
			got := RepairSeries("home", raw, grid, tt.policy)
			assert.True(t, got.Readings[1].Estimated)
			assert.InDelta(t, 3.0, got.Readings[1].ConsumptionKWh, 1e-9)
		})
	}
}

func TestRepairSeriesRejectsSpikeAgainstRollingWindow(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 32)
	raw := make([]RawSample, 0, len(grid))
	for i := 0; i < 30; i++ {
		kwh := 1.0
		if i%2 == 1 {
			kwh = 1.2
		}
		raw = append(raw, RawSample{Hour: grid[i], KWh: kwh})
	}
	raw = append(raw, RawSample{Hour: grid[30], KWh: 50}, RawSample{Hour: grid[31], KWh: 1.0})

	got := RepairSeries("home", raw, grid, DefaultRepairPolicy())

	assert.True(t, got.Readings[30].Estimated)
	assert.InDelta(t, 1.1, got.Readings[30].ConsumptionKWh, 1e-9)
	assert.False(t, got.Readings[31].Estimated)
}

func baselineKWh(i int) float64 { return 0.5 + 0.01*float64(i%3) }

func TestRepairSeriesKeepsLastingStepChange(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 200)
	raw := make([]RawSample, len(grid))
	measured := 0.0
	for i, h := range grid {
		kwh := baselineKWh(i)
		if i >= 50 {
			kwh = 3.0
		}
		raw[i] = RawSample{Hour: h, KWh: kwh}
		measured += kwh
	}

	got := RepairSeries("guest", raw, grid, DefaultRepairPolicy())

	require.False(t, got.Absent)
	assert.Empty(t, got.EstimatedHours)
	assert.Equal(t, 200, got.Quality.RealHours)
	assert.False(t, got.Quality.Flagged)
	assert.InDelta(t, 3.0, got.Readings[150].ConsumptionKWh, 1e-9)
	total := 0.0
	for _, r := range got.Readings {
		total += r.ConsumptionKWh
	}
	assert.InDelta(t, measured, total, 1e-9)
}

func TestRepairSeriesShortExcursions(t *testing.T) {
	t.Run("burst that returns is rejected", func(t *testing.T) {
		grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 44)
		raw := make([]RawSample, len(grid))
		for i, h := range grid {
			kwh := baselineKWh(i)
			if i == 40 || i == 41 {
				kwh = 4.0
			}
			raw[i] = RawSample{Hour: h, KWh: kwh}
		}

		got := RepairSeries("home", raw, grid, DefaultRepairPolicy())

		assert.Equal(t, []time.Time{grid[40], grid[41]}, got.EstimatedHours)
		assert.Less(t, got.Readings[40].ConsumptionKWh, 0.6)
		assert.Less(t, got.Readings[41].ConsumptionKWh, 0.6)
	})

	t.Run("burst at the end of the data is kept", func(t *testing.T) {
		grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 32)
		raw := make([]RawSample, len(grid))
		for i, h := range grid {
			kwh := baselineKWh(i)
			if i >= 30 {
				kwh = 4.0
			}
			raw[i] = RawSample{Hour: h, KWh: kwh}
		}

		got := RepairSeries("home", raw, grid, DefaultRepairPolicy())

		assert.Empty(t, got.EstimatedHours)
		assert.InDelta(t, 4.0, got.Readings[31].ConsumptionKWh, 1e-9)
	})
}

func TestRepairSeriesKeepsSpikeBeforeWindowFills(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4)
	raw := []RawSample{{Hour: grid[0], KWh: 1}, {Hour: grid[1], KWh: 1.1}, {Hour: grid[2], KWh: 50}, {Hour: grid[3], KWh: 1}}

	got := RepairSeries("home", raw, grid, DefaultRepairPolicy())

	assert.False(t, got.Readings[2].Estimated)
	assert.InDelta(t, 50.0, got.Readings[2].ConsumptionKWh, 1e-9)
}

func TestRepairSeriesLaterDuplicateWins(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	raw := []RawSample{{Hour: grid[0], KWh: 1}, {Hour: grid[0].Add(20 * time.Minute), KWh: 2}}

	got := RepairSeries("home", raw, grid, DefaultRepairPolicy())

	assert.InDelta(t, 2.0, got.Readings[0].ConsumptionKWh, 1e-9)
	assert.False(t, got.Readings[0].Estimated)
}

func TestRepairSeriesWithoutReadingsIsAbsent(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 24)

	got := RepairSeries("guest", nil, grid, DefaultRepairPolicy())

	assert.True(t, got.Absent)
	assert.Nil(t, got.Readings)
	assert.Equal(t, 24, got.Quality.TotalHours)
	assert.Zero(t, got.Quality.RealHours)

	allBad := RepairSeries("guest", []RawSample{{Hour: grid[0], KWh: -3}}, grid, DefaultRepairPolicy())
	assert.True(t, allBad.Absent)
}

func TestRepairSeriesQualityFlag(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 730)
	raw := make([]RawSample, 0, 700)
	for i, h := range grid {
		if i >= 300 && i < 330 {
			continue
		}
		raw = append(raw, RawSample{Hour: h, KWh: 1})
	}

	flagged := RepairSeries("home", raw, grid, DefaultRepairPolicy())
	assert.Equal(t, 700, flagged.Quality.RealHours)
	assert.Equal(t, 730, flagged.Quality.TotalHours)
	assert.InDelta(t, 700.0/730.0, flagged.Quality.Ratio, 1e-12)
	assert.True(t, flagged.Quality.Flagged)
	assert.Len(t, flagged.EstimatedHours, 30)

	lenient := RepairSeries("home", raw, grid, RepairPolicy{QualityThreshold: 0.95})
	assert.False(t, lenient.Quality.Flagged)
}

func TestDeriveRemainder(t *testing.T) {
	grid := hoursFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	policy := DefaultRepairPolicy()
	building := RepairSeries("building", []RawSample{{Hour: grid[0], KWh: 5}, {Hour: grid[1], KWh: 2}}, grid, policy)
	home := RepairSeries("home", []RawSample{{Hour: grid[0], KWh: 2}, {Hour: grid[1], KWh: 2}}, grid, policy)
	guest := RepairSeries("guest", []RawSample{{Hour: grid[0], KWh: 1}, {Hour: grid[1], KWh: 1}}, grid, policy)

	got := DeriveRemainder("shared", building, []RepairedSeries{home, guest}, policy.QualityThreshold)

	require.Len(t, got.Readings, 2)
	assert.InDelta(t, 2.0, got.Readings[0].ConsumptionKWh, 1e-9)
	assert.False(t, got.Readings[0].Estimated)
	assert.Zero(t, got.Readings[1].ConsumptionKWh)
	assert.True(t, got.Readings[1].Estimated)
	assert.Equal(t, "shared", got.Readings[1].ZoneID)
	assert.Equal(t, 1, got.Quality.RealHours)
}
