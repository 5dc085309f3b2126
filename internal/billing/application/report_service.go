package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	billing "home-analytics/internal/billing/domain"
	"home-analytics/internal/observability/metrics"
)

// ReportService builds monthly reports and invoice rollups. It fetches all
// series up front and then runs the pure engine on a settings snapshot.
type ReportService struct {
	readings ReadingSource
	prices   PriceSource
	building BuildingMeterSource
	meters   MeterSource
	settings SettingsProvider
	clock    Clock
	cache    *MonthCache
	logger   *log.Logger
}

// ReportOption configures optional dependencies.
type ReportOption func(*ReportService)

// WithClock overrides the clock.
func WithClock(clock Clock) ReportOption {
	return func(s *ReportService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCache enables the month cache.
func WithCache(cache *MonthCache) ReportOption {
	return func(s *ReportService) {
		s.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ReportOption {
	return func(s *ReportService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBuildingMeter enables remainder zones.
func WithBuildingMeter(source BuildingMeterSource) ReportOption {
	return func(s *ReportService) {
		s.building = source
	}
}

// WithMeterSource enables invoice rollups.
func WithMeterSource(source MeterSource) ReportOption {
	return func(s *ReportService) {
		s.meters = source
	}
}

// NewReportService constructs a service.
func NewReportService(readings ReadingSource, prices PriceSource, settings SettingsProvider, opts ...ReportOption) (*ReportService, error) {
	if readings == nil {
		return nil, errors.New("report service: nil reading source")
	}
	if prices == nil {
		return nil, errors.New("report service: nil price source")
	}
	if settings == nil {
		return nil, errors.New("report service: nil settings provider")
	}
	s := &ReportService{
		readings: readings,
		prices:   prices,
		settings: settings,
		clock:    SystemClock{},
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BuildMonthlyReport builds the itemized report of one month.
func (s *ReportService) BuildMonthlyReport(ctx context.Context, year, month int) (*billing.MonthlyReport, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReportBuild(metrics.ReportMonthly, result, time.Since(start))
	}()

	m, err := billing.NewMonth(year, month)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	cfg, err := s.snapshot()
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	report, err := s.monthlyReport(ctx, cfg, m)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return report, nil
}

// BuildInvoice rolls up months [start, end] for one metered zone. An empty
// zoneID selects the configured invoice zone.
func (s *ReportService) BuildInvoice(ctx context.Context, zoneID string, startYear, startMonth, endYear, endMonth int) (*billing.Invoice, error) {
	begin := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReportBuild(metrics.ReportInvoice, result, time.Since(begin))
	}()

	inv, err := s.buildInvoice(ctx, zoneID, startYear, startMonth, endYear, endMonth)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return inv, nil
}

func (s *ReportService) buildInvoice(ctx context.Context, zoneID string, startYear, startMonth, endYear, endMonth int) (*billing.Invoice, error) {
	cfg, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if zoneID == "" {
		zoneID = cfg.InvoiceZoneID
	}
	zone, ok := cfg.Zone(zoneID)
	if !ok {
		return nil, billing.NewInvalidRange("unknown zone %q", zoneID)
	}
	if zone.Kind != billing.ZoneMetered {
		return nil, billing.NewInvalidRange("zone %q has no meter of its own", zoneID)
	}
	first, err := billing.NewMonth(startYear, startMonth)
	if err != nil {
		return nil, err
	}
	last, err := billing.NewMonth(endYear, endMonth)
	if err != nil {
		return nil, err
	}
	if err := billing.ValidateInvoiceRange(first, last); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if _, err := billing.NewPeriod(last, cfg.Location, now); err != nil {
		return nil, err
	}
	if s.meters == nil {
		return nil, billing.NewConfigurationError("no meter source configured")
	}

	loc := cfg.Location
	prev := first.Prev()
	baselineWindow, err := s.meters.FetchMeterWindow(ctx, zone, prev.Start(loc), prev.End(loc))
	if err != nil {
		return nil, fmt.Errorf("report service: baseline reading: %w", err)
	}

	months := make([]billing.InvoiceMonth, 0, billing.MonthSpan(first, last))
	for m := first; !last.Before(m); m = m.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		window, err := s.meters.FetchMeterWindow(ctx, zone, m.Start(loc), m.End(loc))
		if err != nil {
			return nil, fmt.Errorf("report service: meter readings %s: %w", m, err)
		}
		entry := billing.InvoiceMonth{Month: m, Meter: window}
		report, err := s.monthlyReport(ctx, cfg, m)
		switch {
		case errors.Is(err, billing.ErrInsufficientData):
		case err != nil:
			return nil, err
		default:
			if zt, ok := report.Zone(zone.ID); ok && !zt.Absent {
				total := zt.TotalInclVAT
				entry.TotalInclVAT = &total
			}
		}
		months = append(months, entry)
	}

	inv := billing.BuildInvoice(zone, baselineWindow.Closing, months, loc)
	s.logger.Printf("invoice built: zone=%s start=%s end=%s rows=%d", zone.ID, first, last, len(inv.Rows))
	return &inv, nil
}

// ClearCache drops cached reports and returns how many were dropped.
func (s *ReportService) ClearCache() int {
	if s.cache == nil {
		return 0
	}
	n := s.cache.Clear()
	s.logger.Printf("report cache cleared: entries=%d", n)
	return n
}

// Settings returns the current settings snapshot.
func (s *ReportService) Settings() (*billing.Settings, error) {
	return s.snapshot()
}

func (s *ReportService) snapshot() (*billing.Settings, error) {
	cfg := s.settings.Current()
	if cfg == nil {
		return nil, billing.NewConfigurationError("settings not loaded")
	}
	return cfg, nil
}

func (s *ReportService) monthlyReport(ctx context.Context, cfg *billing.Settings, m billing.Month) (*billing.MonthlyReport, error) {
	now := s.clock.Now()
	period, err := billing.NewPeriod(m, cfg.Location, now)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(m, cfg.Version); ok {
			return cached, nil
		}
	}

	in, err := s.fetch(ctx, cfg, period)
	if err != nil {
		return nil, err
	}
	report, err := assemble(cfg, period, in)
	if err != nil {
		return nil, err
	}
	report.SettingsVersion = cfg.Version
	report.GeneratedAt = now.UTC()

	estimated := 0
	for _, z := range report.Zones {
		estimated += len(z.EstimatedHours)
		metrics.AddEstimatedHours(z.ZoneID, len(z.EstimatedHours))
	}
	metrics.AddUnpricedHours(report.TotalHours - report.PricedHours)
	s.logger.Printf("monthly report built: month=%s hours=%d estimated=%d coverage=%.3f in_progress=%t",
		m, report.TotalHours, estimated, report.PricedCoverage, period.InProgress)

	if s.cache != nil {
		s.cache.Put(report)
	}
	return report, nil
}

// fetched holds raw series in zone order.
type fetched struct {
	zones    [][]billing.RawSample
	building []billing.RawSample
	prices   []billing.PriceSample
}

func (s *ReportService) fetch(ctx context.Context, cfg *billing.Settings, period billing.Period) (fetched, error) {
	out := fetched{zones: make([][]billing.RawSample, len(cfg.Zones))}
	if period.HourCount() == 0 {
		return out, nil
	}
	start, end := period.Start, period.End

	needsBuilding := false
	for _, zone := range cfg.Zones {
		if zone.Kind == billing.ZoneRemainder {
			needsBuilding = true
		}
	}
	if needsBuilding && s.building == nil {
		return out, billing.NewConfigurationError("remainder zone configured without a building meter source")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, zone := range cfg.Zones {
		if zone.Kind == billing.ZoneRemainder {
			continue
		}
		g.Go(func() error {
			began := time.Now()
			samples, err := s.readings.FetchHourlyConsumption(gctx, zone, start, end)
			metrics.ObserveSourceFetch("consumption", resultOf(err), time.Since(began))
			if err != nil {
				return fmt.Errorf("report service: consumption of zone %s: %w", zone.ID, err)
			}
			out.zones[i] = samples
			return nil
		})
	}
	if needsBuilding {
		g.Go(func() error {
			began := time.Now()
			samples, err := s.building.FetchBuildingConsumption(gctx, cfg.BuildingMeter, start, end)
			metrics.ObserveSourceFetch("building", resultOf(err), time.Since(began))
			if err != nil {
				return fmt.Errorf("report service: building meter: %w", err)
			}
			out.building = samples
			return nil
		})
	}
	g.Go(func() error {
		began := time.Now()
		samples, err := s.prices.FetchHourlyPrices(gctx, start, end)
		metrics.ObserveSourceFetch("prices", resultOf(err), time.Since(began))
		if err != nil {
			return fmt.Errorf("report service: spot prices: %w", err)
		}
		out.prices = samples
		return nil
	})
	if err := g.Wait(); err != nil {
		return fetched{}, err
	}
	return out, nil
}

// assemble runs the engine. It takes no locks and performs no I/O.
func assemble(cfg *billing.Settings, period billing.Period, in fetched) (*billing.MonthlyReport, error) {
	grid := period.Hours()
	series := make([]billing.RepairedSeries, len(cfg.Zones))
	metered := make([]billing.RepairedSeries, 0, len(cfg.Zones))
	remainder := -1
	for i, zone := range cfg.Zones {
		if zone.Kind == billing.ZoneRemainder {
			remainder = i
			continue
		}
		series[i] = billing.RepairSeries(zone.ID, in.zones[i], grid, cfg.Repair)
		metered = append(metered, series[i])
	}
	if remainder >= 0 {
		building := billing.RepairSeries(cfg.BuildingMeter, in.building, grid, cfg.Repair)
		series[remainder] = billing.DeriveRemainder(cfg.Zones[remainder].ID, building, metered, cfg.Repair.QualityThreshold)
	}

	table, err := billing.ComposeTable(grid, series, billing.NewPriceIndex(in.prices), cfg.Tariffs)
	if err != nil {
		return nil, err
	}
	fixed, err := cfg.Tariffs.ResolveBase(period.Start)
	if err != nil {
		return nil, err
	}
	return billing.Aggregate(billing.AggregateInput{
		Period:     period,
		Zones:      cfg.Zones,
		Series:     series,
		Table:      table,
		Fixed:      fixed,
		Allocation: cfg.Allocation,
	})
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
