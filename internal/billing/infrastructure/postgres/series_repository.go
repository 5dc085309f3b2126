package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	billing "home-analytics/internal/billing/domain"
)

const (
	defaultConsumptionTable = "hourly_consumption"
	defaultPricesTable      = "spot_prices"
	defaultMeterTable       = "meter_readings"
)

// SeriesRepository reads consumption, spot prices and cumulative meter
// readings from Postgres. It serves every source port of the report service.
type SeriesRepository struct {
	db               *sql.DB
	consumptionTable string
	pricesTable      string
	meterTable       string
}

// SeriesOption configures the repository.
type SeriesOption func(*SeriesRepository)

// WithConsumptionTable overrides the hourly consumption table.
func WithConsumptionTable(table string) SeriesOption {
	return func(r *SeriesRepository) {
		if table != "" {
			r.consumptionTable = table
		}
	}
}

// WithPricesTable overrides the spot price table.
func WithPricesTable(table string) SeriesOption {
	return func(r *SeriesRepository) {
		if table != "" {
			r.pricesTable = table
		}
	}
}

// WithMeterTable overrides the meter reading table.
func WithMeterTable(table string) SeriesOption {
	return func(r *SeriesRepository) {
		if table != "" {
			r.meterTable = table
		}
	}
}

// NewSeriesRepository constructs a repository.
func NewSeriesRepository(db *sql.DB, opts ...SeriesOption) *SeriesRepository {
	r := &SeriesRepository{
		db:               db,
		consumptionTable: defaultConsumptionTable,
		pricesTable:      defaultPricesTable,
		meterTable:       defaultMeterTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchHourlyConsumption returns the zone sensor's hourly values in [start, end).
func (r *SeriesRepository) FetchHourlyConsumption(ctx context.Context, zone billing.Zone, start, end time.Time) ([]billing.RawSample, error) {
	return r.FetchBuildingConsumption(ctx, zone.Sensor, start, end)
}

// FetchBuildingConsumption returns a sensor's hourly values in [start, end).
func (r *SeriesRepository) FetchBuildingConsumption(ctx context.Context, sensor string, start, end time.Time) ([]billing.RawSample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("series repo: nil db")
	}
	if sensor == "" {
		return nil, errors.New("series repo: empty sensor")
	}
	query := fmt.Sprintf(`
SELECT hour_start, kwh
FROM %s
WHERE sensor = $1 AND hour_start >= $2 AND hour_start < $3
ORDER BY hour_start`, r.consumptionTable)
	rows, err := r.db.QueryContext(ctx, query, sensor, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.RawSample
	for rows.Next() {
		var s billing.RawSample
		if err := rows.Scan(&s.Hour, &s.KWh); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FetchHourlyPrices returns spot prices ex VAT in [start, end).
func (r *SeriesRepository) FetchHourlyPrices(ctx context.Context, start, end time.Time) ([]billing.PriceSample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("series repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT hour_start, price_per_kwh
FROM %s
WHERE hour_start >= $1 AND hour_start < $2
ORDER BY hour_start`, r.pricesTable)
	rows, err := r.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.PriceSample
	for rows.Next() {
		var p billing.PriceSample
		if err := rows.Scan(&p.Hour, &p.SpotPerKWh); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FetchMeterWindow returns the first and last positive readings in [start, end).
// Zero readings are sensor outages and are skipped.
func (r *SeriesRepository) FetchMeterWindow(ctx context.Context, zone billing.Zone, start, end time.Time) (billing.MeterWindow, error) {
	if r == nil || r.db == nil {
		return billing.MeterWindow{}, errors.New("series repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT
	(SELECT value_kwh FROM %[1]s
		WHERE sensor = $1 AND read_at >= $2 AND read_at < $3 AND value_kwh > 0
		ORDER BY read_at ASC LIMIT 1),
	(SELECT value_kwh FROM %[1]s
		WHERE sensor = $1 AND read_at >= $2 AND read_at < $3 AND value_kwh > 0
		ORDER BY read_at DESC LIMIT 1)`, r.meterTable)
	var opening, closing sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, query, zone.Sensor, start.UTC(), end.UTC()).Scan(&opening, &closing); err != nil {
		return billing.MeterWindow{}, err
	}
	var window billing.MeterWindow
	if opening.Valid {
		v := opening.Float64
		window.Opening = &v
	}
	if closing.Valid {
		v := closing.Float64
		window.Closing = &v
	}
	return window, nil
}

// UpsertConsumption stores hourly values of a sensor.
func (r *SeriesRepository) UpsertConsumption(ctx context.Context, sensor string, samples []billing.RawSample) error {
	if r == nil || r.db == nil {
		return errors.New("series repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (sensor, hour_start, kwh)
VALUES ($1, $2, $3)
ON CONFLICT (sensor, hour_start) DO UPDATE SET kwh = EXCLUDED.kwh`, r.consumptionTable)
	return r.execBatch(ctx, query, len(samples), func(i int) []any {
		return []any{sensor, samples[i].Hour.UTC().Truncate(time.Hour), samples[i].KWh}
	})
}

// UpsertPrices stores spot prices ex VAT.
func (r *SeriesRepository) UpsertPrices(ctx context.Context, prices []billing.PriceSample) error {
	if r == nil || r.db == nil {
		return errors.New("series repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (hour_start, price_per_kwh)
VALUES ($1, $2)
ON CONFLICT (hour_start) DO UPDATE SET price_per_kwh = EXCLUDED.price_per_kwh`, r.pricesTable)
	return r.execBatch(ctx, query, len(prices), func(i int) []any {
		return []any{prices[i].Hour.UTC().Truncate(time.Hour), prices[i].SpotPerKWh}
	})
}

// InsertMeterReading stores one cumulative reading.
func (r *SeriesRepository) InsertMeterReading(ctx context.Context, sensor string, at time.Time, value float64) error {
	if r == nil || r.db == nil {
		return errors.New("series repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (sensor, read_at, value_kwh)
VALUES ($1, $2, $3)
ON CONFLICT (sensor, read_at) DO UPDATE SET value_kwh = EXCLUDED.value_kwh`, r.meterTable)
	_, err := r.db.ExecContext(ctx, query, sensor, at.UTC(), value)
	return err
}

func (r *SeriesRepository) execBatch(ctx context.Context, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
