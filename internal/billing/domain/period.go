package billing

import (
	"fmt"
	"time"
)

const (
	MinYear = 2020
	MaxYear = 2100
)

// Month is a calendar month in the configured local time zone.
type Month struct {
	Year  int
	Month time.Month
}

// TimeKey is the compact month key used for caching and storage.
type TimeKey string

// NewMonth validates year and month numbers.
func NewMonth(year, month int) (Month, error) {
	if month < 1 || month > 12 {
		return Month{}, invalidRange("month %d out of range 1-12", month)
	}
	if year < MinYear || year > MaxYear {
		return Month{}, invalidRange("year %d out of range %d-%d", year, MinYear, MaxYear)
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

// MonthOf returns the local month containing t.
func MonthOf(t time.Time, loc *time.Location) Month {
	local := t.In(loc)
	return Month{Year: local.Year(), Month: local.Month()}
}

// Start returns local midnight of the first day.
func (m Month) Start(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// End returns the exclusive end, i.e. the start of the next month.
func (m Month) End(loc *time.Location) time.Time {
	return m.Next().Start(loc)
}

func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Index is a monotonically increasing month number, handy for range arithmetic.
func (m Month) Index() int { return m.Year*12 + int(m.Month) - 1 }

func (m Month) Before(other Month) bool { return m.Index() < other.Index() }

// Days returns the number of calendar days.
func (m Month) Days() int {
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (m Month) Key() TimeKey { return TimeKey(fmt.Sprintf("%04d%02d", m.Year, int(m.Month))) }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// MonthSpan counts months from a to b inclusive. It is <= 0 when b precedes a.
func MonthSpan(a, b Month) int { return b.Index() - a.Index() + 1 }

// Period is the hour range a report covers. End is exclusive and equals the
// month end for closed months, or the start of the current hour otherwise.
type Period struct {
	Month      Month
	Location   *time.Location
	Start      time.Time
	End        time.Time
	MonthEnd   time.Time
	InProgress bool
}

// NewPeriod resolves the reportable range of m as seen at now.
func NewPeriod(m Month, loc *time.Location, now time.Time) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := m.Start(loc)
	monthEnd := m.End(loc)
	current := now.UTC().Truncate(time.Hour)
	if start.After(current) {
		return Period{}, invalidRange("period %s starts after the current hour", m)
	}
	p := Period{Month: m, Location: loc, Start: start, End: monthEnd, MonthEnd: monthEnd}
	if current.Before(monthEnd) {
		p.End = current
		p.InProgress = true
	}
	return p, nil
}

// Hours returns the canonical hour grid of the period.
func (p Period) Hours() []time.Time {
	return HourGrid(p.Start, p.End)
}

// HourCount is the number of hours covered so far.
func (p Period) HourCount() int {
	if !p.End.After(p.Start) {
		return 0
	}
	return int(p.End.Sub(p.Start) / time.Hour)
}

// ElapsedRatio is elapsed days over calendar days; 1 for closed months.
func (p Period) ElapsedRatio() float64 {
	if !p.InProgress {
		return 1
	}
	elapsed := p.End.Sub(p.Start).Hours() / 24
	ratio := elapsed / float64(p.Month.Days())
	if ratio > 1 {
		return 1
	}
	return ratio
}

// HourGrid steps absolute hours from start (inclusive) to end (exclusive), so
// DST transitions yield 23 or 25 local hours per day.
func HourGrid(start, end time.Time) []time.Time {
	if !end.After(start) {
		return nil
	}
	loc := start.Location()
	first := start.UTC().Truncate(time.Hour)
	if first.Before(start.UTC()) {
		first = first.Add(time.Hour)
	}
	hours := make([]time.Time, 0, int(end.Sub(first)/time.Hour)+1)
	for h := first; h.Before(end); h = h.Add(time.Hour) {
		hours = append(hours, h.In(loc))
	}
	return hours
}

// HourKey identifies an hour independent of its location.
func HourKey(t time.Time) int64 { return t.Unix() / 3600 }
