package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	billing "home-analytics/internal/billing/domain"
)

type meterPoint struct {
	at    time.Time
	value float64
}

// SeriesStore is an in-memory source of consumption, prices and cumulative
// meter readings for demo/testing. It serves every source port.
type SeriesStore struct {
	mu          sync.RWMutex
	consumption map[string][]billing.RawSample
	prices      []billing.PriceSample
	meters      map[string][]meterPoint
}

// NewSeriesStore constructs an empty store.
func NewSeriesStore() *SeriesStore {
	return &SeriesStore{
		consumption: make(map[string][]billing.RawSample),
		meters:      make(map[string][]meterPoint),
	}
}

// AddConsumption appends hourly samples for a sensor.
func (s *SeriesStore) AddConsumption(sensor string, samples ...billing.RawSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumption[sensor] = append(s.consumption[sensor], samples...)
}

// AddPrices appends spot prices.
func (s *SeriesStore) AddPrices(samples ...billing.PriceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, samples...)
}

// AddMeterReading records a cumulative reading.
func (s *SeriesStore) AddMeterReading(sensor string, at time.Time, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := append(s.meters[sensor], meterPoint{at: at, value: value})
	sort.SliceStable(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	s.meters[sensor] = points
}

// FetchHourlyConsumption returns the zone sensor's samples in [start, end).
func (s *SeriesStore) FetchHourlyConsumption(ctx context.Context, zone billing.Zone, start, end time.Time) ([]billing.RawSample, error) {
	return s.FetchBuildingConsumption(ctx, zone.Sensor, start, end)
}

// FetchBuildingConsumption returns a sensor's samples in [start, end).
func (s *SeriesStore) FetchBuildingConsumption(ctx context.Context, sensor string, start, end time.Time) ([]billing.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.RawSample
	for _, r := range s.consumption[sensor] {
		if inRange(r.Hour, start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// FetchHourlyPrices returns prices in [start, end).
func (s *SeriesStore) FetchHourlyPrices(ctx context.Context, start, end time.Time) ([]billing.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.PriceSample
	for _, p := range s.prices {
		if inRange(p.Hour, start, end) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FetchMeterWindow returns the first and last readings in [start, end).
func (s *SeriesStore) FetchMeterWindow(ctx context.Context, zone billing.Zone, start, end time.Time) (billing.MeterWindow, error) {
	if err := ctx.Err(); err != nil {
		return billing.MeterWindow{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var window billing.MeterWindow
	for _, p := range s.meters[zone.Sensor] {
		if !inRange(p.at, start, end) {
			continue
		}
		v := p.value
		if window.Opening == nil {
			window.Opening = &v
		}
		window.Closing = &v
	}
	return window, nil
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
