package billing

import (
	"math"
	"time"
)

const (
	DefaultRepairWindowHours = 168
	DefaultRepairMinSamples  = 24
	DefaultOutlierSigma      = 6.0
	DefaultMaxSpikeHours     = 3
	DefaultQualityThreshold  = 0.96
)

// RepairPolicy configures plausibility checks and the data-quality flag.
type RepairPolicy struct {
	// WindowHours is the number of preceding valid values used for the outlier test.
	WindowHours int
	// MinSamples is the window fill required before outliers are rejected.
	MinSamples int
	// OutlierSigma marks values this many standard deviations above the window mean.
	OutlierSigma float64
	// MaxSpikeHours is the longest run of marked readings still treated as a
	// fault. A longer run, or one that lasts to the end of the data, is a real
	// change in load and is kept.
	MaxSpikeHours int
	// MaxHourlyKWh rejects any value above it. Zero disables the cap.
	MaxHourlyKWh float64
	// QualityThreshold flags a series whose real-hour ratio falls below it.
	QualityThreshold float64
}

// DefaultRepairPolicy returns the policy used when settings leave it unset.
func DefaultRepairPolicy() RepairPolicy {
	return RepairPolicy{
		WindowHours:      DefaultRepairWindowHours,
		MinSamples:       DefaultRepairMinSamples,
		OutlierSigma:     DefaultOutlierSigma,
		MaxSpikeHours:    DefaultMaxSpikeHours,
		QualityThreshold: DefaultQualityThreshold,
	}
}

func (p RepairPolicy) withDefaults() RepairPolicy {
	d := DefaultRepairPolicy()
	if p.WindowHours <= 0 {
		p.WindowHours = d.WindowHours
	}
	if p.MinSamples <= 0 {
		p.MinSamples = d.MinSamples
	}
	if p.OutlierSigma <= 0 {
		p.OutlierSigma = d.OutlierSigma
	}
	if p.MaxSpikeHours <= 0 {
		p.MaxSpikeHours = d.MaxSpikeHours
	}
	if p.QualityThreshold <= 0 {
		p.QualityThreshold = d.QualityThreshold
	}
	return p
}

// QualityScore describes how much of a series was measured rather than estimated.
type QualityScore struct {
	RealHours  int
	TotalHours int
	Ratio      float64
	Flagged    bool
}

// RepairedSeries is a dense, gap-free series on the period's hour grid.
// Absent series carry no readings.
type RepairedSeries struct {
	ZoneID         string
	Readings       []HourlyReading
	EstimatedHours []time.Time
	Quality        QualityScore
	Absent         bool
}

// RepairSeries aligns raw samples to grid, rejects implausible values and fills
// every gap by linear interpolation between valid neighbours, repeating the
// nearest valid value at the range boundaries.
func RepairSeries(zoneID string, raw []RawSample, grid []time.Time, policy RepairPolicy) RepairedSeries {
	policy = policy.withDefaults()
	n := len(grid)
	out := RepairedSeries{ZoneID: zoneID, Quality: QualityScore{TotalHours: n}}
	if n == 0 {
		out.Absent = true
		return out
	}

	position := make(map[int64]int, n)
	for i, h := range grid {
		position[HourKey(h)] = i
	}
	values := make([]float64, n)
	present := make([]bool, n)
	for _, s := range raw {
		i, ok := position[HourKey(s.Hour)]
		if !ok {
			continue
		}
		// later duplicates win
		values[i] = s.KWh
		present[i] = true
	}

	valid := markPlausible(values, present, policy)
	anchors := 0
	for _, ok := range valid {
		if ok {
			anchors++
		}
	}
	if anchors == 0 {
		out.Absent = true
		return out
	}

	fillGaps(values, valid)

	out.Readings = make([]HourlyReading, n)
	for i, h := range grid {
		out.Readings[i] = HourlyReading{
			ZoneID:         zoneID,
			Hour:           h,
			ConsumptionKWh: values[i],
			Estimated:      !valid[i],
		}
		if !valid[i] {
			out.EstimatedHours = append(out.EstimatedHours, h)
		}
	}
	out.Quality = scoreQuality(anchors, n, policy.QualityThreshold)
	return out
}

func scoreQuality(real, total int, threshold float64) QualityScore {
	q := QualityScore{RealHours: real, TotalHours: total}
	if total > 0 {
		q.Ratio = float64(real) / float64(total)
	}
	q.Flagged = q.Ratio < threshold
	return q
}

// markPlausible walks the series in time order with a rolling window of the
// most recent valid values. A value far above the window is rejected only as
// part of a short excursion that returns below the limit.
func markPlausible(values []float64, present []bool, policy RepairPolicy) []bool {
	usable := func(i int) bool {
		v := values[i]
		if !present[i] || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
		return policy.MaxHourlyKWh <= 0 || v <= policy.MaxHourlyKWh
	}
	valid := make([]bool, len(values))
	window := make([]float64, 0, policy.WindowHours)
	for i, v := range values {
		if !usable(i) {
			continue
		}
		if len(window) >= policy.MinSamples {
			mean, std := meanStd(window)
			limit := mean + policy.OutlierSigma*std
			if std > 0 && v > limit && isolatedSpike(values, i, limit, policy.MaxSpikeHours, usable) {
				continue
			}
		}
		valid[i] = true
		if len(window) == policy.WindowHours {
			copy(window, window[1:])
			window = window[:len(window)-1]
		}
		window = append(window, v)
	}
	return valid
}

// isolatedSpike reports whether the run of usable readings above limit that
// starts at i ends within maxRun readings.
func isolatedSpike(values []float64, i int, limit float64, maxRun int, usable func(int) bool) bool {
	run := 0
	for j := i; j < len(values); j++ {
		if !usable(j) {
			continue
		}
		if values[j] <= limit {
			return true
		}
		run++
		if run > maxRun {
			return false
		}
	}
	return false
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// fillGaps replaces every invalid position in place. At least one position must be valid.
func fillGaps(values []float64, valid []bool) {
	prev := -1
	for i := 0; i < len(values); i++ {
		if valid[i] {
			prev = i
			continue
		}
		next := i + 1
		for next < len(values) && !valid[next] {
			next++
		}
		for j := i; j < next; j++ {
			switch {
			case prev >= 0 && next < len(values):
				frac := float64(j-prev) / float64(next-prev)
				values[j] = values[prev] + (values[next]-values[prev])*frac
			case prev >= 0:
				values[j] = values[prev]
			default:
				values[j] = values[next]
			}
		}
		i = next - 1
	}
}

// DeriveRemainder computes building minus the sum of metered zones hour by hour.
// Negative differences are clamped to zero and marked estimated, as are hours
// where any input was estimated.
func DeriveRemainder(zoneID string, building RepairedSeries, metered []RepairedSeries, threshold float64) RepairedSeries {
	out := RepairedSeries{ZoneID: zoneID, Quality: QualityScore{TotalHours: building.Quality.TotalHours}}
	if building.Absent {
		out.Absent = true
		return out
	}
	if threshold <= 0 {
		threshold = DefaultQualityThreshold
	}
	real := 0
	out.Readings = make([]HourlyReading, len(building.Readings))
	for i, b := range building.Readings {
		kwh := b.ConsumptionKWh
		estimated := b.Estimated
		for _, m := range metered {
			if m.Absent || i >= len(m.Readings) {
				continue
			}
			kwh -= m.Readings[i].ConsumptionKWh
			estimated = estimated || m.Readings[i].Estimated
		}
		if kwh < 0 {
			kwh = 0
			estimated = true
		}
		out.Readings[i] = HourlyReading{ZoneID: zoneID, Hour: b.Hour, ConsumptionKWh: kwh, Estimated: estimated}
		if estimated {
			out.EstimatedHours = append(out.EstimatedHours, b.Hour)
		} else {
			real++
		}
	}
	out.Quality = scoreQuality(real, len(out.Readings), threshold)
	return out
}
