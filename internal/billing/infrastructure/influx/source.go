package influx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/shopspring/decimal"

	billing "home-analytics/internal/billing/domain"
)

// TariffResolver returns the building tariff schedule in effect at an hour.
type TariffResolver func(at time.Time) (billing.TariffSchedule, error)

// SpotFromRetail strips VAT and the retailer markup of s from a retail price
// per kWh: raw/(1+VAT) - markup.
func SpotFromRetail(raw float64, s billing.TariffSchedule) float64 {
	exVAT := decimal.NewFromFloat(raw).Div(decimal.NewFromInt(1).Add(s.VATRate))
	return exVAT.Sub(s.RetailerMarkupPerKWh).InexactFloat64()
}

// Source serves hourly consumption, spot prices and meter windows from
// cumulative Home Assistant sensors stored in InfluxDB.
type Source struct {
	client      *Client
	priceSensor string
	tariffs     TariffResolver
	logger      *log.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) SourceOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSource constructs a source. priceSensor is the entity holding the
// hourly retail price, which includes VAT and the retailer markup of the
// schedule tariffs resolves for that hour.
func NewSource(client *Client, priceSensor string, tariffs TariffResolver, opts ...SourceOption) (*Source, error) {
	if client == nil {
		return nil, errors.New("influx source: nil client")
	}
	if priceSensor == "" {
		return nil, errors.New("influx source: empty price sensor")
	}
	if tariffs == nil {
		return nil, errors.New("influx source: nil tariff resolver")
	}
	s := &Source{
		client:      client,
		priceSensor: priceSensor,
		tariffs:     tariffs,
		logger:      log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchHourlyConsumption derives hourly kWh of a zone from its cumulative meter.
func (s *Source) FetchHourlyConsumption(ctx context.Context, zone billing.Zone, start, end time.Time) ([]billing.RawSample, error) {
	return s.FetchBuildingConsumption(ctx, zone.Sensor, start, end)
}

// FetchBuildingConsumption derives hourly kWh in [start, end) from a
// cumulative sensor. The value of hour h is first(h+1) - first(h). A zero
// reading is an outage, not a reset, so hours touching it are left out.
func (s *Source) FetchBuildingConsumption(ctx context.Context, sensor string, start, end time.Time) ([]billing.RawSample, error) {
	if sensor == "" {
		return nil, errors.New("influx source: empty sensor")
	}
	points, err := s.client.HourlyFirst(ctx, sensor, start, end.Add(time.Hour))
	if err != nil {
		return nil, err
	}
	firsts := make(map[int64]float64, len(points))
	for _, p := range points {
		firsts[billing.HourKey(p.Time)] = p.Value
	}

	var out []billing.RawSample
	dropped := 0
	for _, h := range billing.HourGrid(start, end) {
		key := billing.HourKey(h)
		a, okA := firsts[key]
		b, okB := firsts[key+1]
		if !okA || !okB {
			continue
		}
		if a <= 0 || b <= 0 || b < a {
			dropped++
			continue
		}
		out = append(out, billing.RawSample{Hour: h, KWh: b - a})
	}
	if dropped > 0 {
		s.logger.Printf("influx source: sensor=%s dropped=%d hours with outage or reset", sensor, dropped)
	}
	return out, nil
}

// FetchHourlyPrices returns ex-VAT spot prices in [start, end). An hour no
// schedule covers fails the fetch.
func (s *Source) FetchHourlyPrices(ctx context.Context, start, end time.Time) ([]billing.PriceSample, error) {
	points, err := s.client.HourlyFirst(ctx, s.priceSensor, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]billing.PriceSample, 0, len(points))
	for _, p := range points {
		if p.Time.Before(start) || !p.Time.Before(end) {
			continue
		}
		schedule, err := s.tariffs(p.Time)
		if err != nil {
			return nil, fmt.Errorf("influx source: price at %s: %w", p.Time.UTC().Format(time.RFC3339), err)
		}
		out = append(out, billing.PriceSample{Hour: p.Time, SpotPerKWh: SpotFromRetail(p.Value, schedule)})
	}
	return out, nil
}

// FetchMeterWindow returns the first and last positive cumulative readings.
func (s *Source) FetchMeterWindow(ctx context.Context, zone billing.Zone, start, end time.Time) (billing.MeterWindow, error) {
	var window billing.MeterWindow
	first, ok, err := s.client.Edge(ctx, zone.Sensor, start, end, false)
	if err != nil {
		return window, err
	}
	if ok {
		v := first.Value
		window.Opening = &v
	}
	last, ok, err := s.client.Edge(ctx, zone.Sensor, start, end, true)
	if err != nil {
		return window, err
	}
	if ok {
		v := last.Value
		window.Closing = &v
	}
	return window, nil
}
