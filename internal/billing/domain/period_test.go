package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonthValidates(t *testing.T) {
	tests := []struct {
		name  string
		year  int
		month int
	}{
		{"month zero", 2025, 0},
		{"month thirteen", 2025, 13},
		{"year too early", 2019, 5},
		{"year too late", 2101, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMonth(tt.year, tt.month)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRange))
			assert.Equal(t, KindInvalidRange, KindOf(err))
		})
	}

	m, err := NewMonth(2025, 12)
	require.NoError(t, err)
	assert.Equal(t, Month{Year: 2026, Month: time.January}, m.Next())
	assert.Equal(t, TimeKey("202512"), m.Key())
	assert.Equal(t, "2025-12", m.String())
}

func TestNewPeriodRejectsFutureMonth(t *testing.T) {
	loc := stockholm(t)
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, loc)

	_, err := NewPeriod(Month{Year: 2025, Month: time.April}, loc, now)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRange))
}

func TestNewPeriodCurrentMonthIsInProgress(t *testing.T) {
	loc := stockholm(t)
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, loc)

	p, err := NewPeriod(Month{Year: 2025, Month: time.March}, loc, now)

	require.NoError(t, err)
	assert.True(t, p.InProgress)
	assert.True(t, p.End.Equal(time.Date(2025, 3, 15, 10, 0, 0, 0, loc)))
	assert.Equal(t, 14*24+10, p.HourCount())
	assert.Len(t, p.Hours(), 14*24+10)
	assert.InDelta(t, (14.0+10.0/24.0)/31.0, p.ElapsedRatio(), 1e-9)
}

func TestNewPeriodClosedMonth(t *testing.T) {
	loc := stockholm(t)
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, loc)

	p, err := NewPeriod(Month{Year: 2025, Month: time.February}, loc, now)

	require.NoError(t, err)
	assert.False(t, p.InProgress)
	assert.Equal(t, 28*24, p.HourCount())
	assert.Equal(t, 1.0, p.ElapsedRatio())
}

func TestHourGridFollowsDaylightSaving(t *testing.T) {
	loc := stockholm(t)

	march := Month{Year: 2025, Month: time.March}
	october := Month{Year: 2025, Month: time.October}

	assert.Len(t, HourGrid(march.Start(loc), march.End(loc)), 31*24-1)
	assert.Len(t, HourGrid(october.Start(loc), october.End(loc)), 31*24+1)
}

func TestMonthLabel(t *testing.T) {
	assert.Equal(t, "Januari 2025", Month{Year: 2025, Month: time.January}.Label())
	assert.Equal(t, "Maj 2024", Month{Year: 2024, Month: time.May}.Label())
}
