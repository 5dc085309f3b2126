package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	billing "home-analytics/internal/billing/domain"
	"home-analytics/internal/billing/infrastructure/settings"
)

const (
	defaultTariffTable     = "tariff_schedules"
	defaultAllocationTable = "zone_allocations"
)

// SettingsRepository stores tariff schedules and zone shares managed outside
// the settings file. It is applied as an overlay on the parsed document.
type SettingsRepository struct {
	db              *sql.DB
	tariffTable     string
	allocationTable string
}

// NewSettingsRepository constructs a repository.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db, tariffTable: defaultTariffTable, allocationTable: defaultAllocationTable}
}

// AllocationRow is one persisted zone share.
type AllocationRow struct {
	ZoneID      string
	Share       float64
	Contributes bool
}

// Apply replaces the document's tariffs when the table holds any schedule
// and overrides zone shares for zones present in the allocation table.
func (r *SettingsRepository) Apply(ctx context.Context, doc *settings.Document) error {
	if doc == nil {
		return errors.New("settings repo: nil document")
	}
	tariffs, err := r.ListTariffs(ctx)
	if err != nil {
		return fmt.Errorf("settings repo: tariffs: %w", err)
	}
	if len(tariffs) > 0 {
		doc.Tariffs = tariffs
	}
	rows, err := r.ListAllocations(ctx)
	if err != nil {
		return fmt.Errorf("settings repo: allocations: %w", err)
	}
	for _, row := range rows {
		idx := -1
		for i := range doc.Zones {
			if doc.Zones[i].ID == row.ZoneID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return billing.NewConfigurationError("stored allocation for unknown zone %q", row.ZoneID)
		}
		doc.Zones[idx].Share = row.Share
		doc.Zones[idx].Contributes = row.Contributes
	}
	return nil
}

// ListTariffs returns schedules ordered by zone and start.
func (r *SettingsRepository) ListTariffs(ctx context.Context) ([]settings.TariffEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settings repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT zone_id, effective_from, effective_to,
	retailer_markup_per_kwh::text, retailer_subscription_month::text,
	grid_transfer_per_kwh::text, grid_energy_tax_per_kwh::text,
	grid_subscription_month::text, vat_rate::text
FROM %s
ORDER BY zone_id, effective_from`, r.tariffTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settings.TariffEntry
	for rows.Next() {
		var (
			e    settings.TariffEntry
			from time.Time
			to   sql.NullTime
		)
		if err := rows.Scan(&e.Zone, &from, &to,
			&e.RetailerMarkupPerKWh, &e.RetailerSubscriptionMonth,
			&e.GridTransferPerKWh, &e.GridEnergyTaxPerKWh,
			&e.GridSubscriptionMonth, &e.VATRate); err != nil {
			return nil, err
		}
		e.EffectiveFrom = from.Format(time.RFC3339)
		if to.Valid {
			e.EffectiveTo = to.Time.Format(time.RFC3339)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertTariff stores one schedule.
func (r *SettingsRepository) InsertTariff(ctx context.Context, zoneID string, s billing.TariffSchedule) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	var to sql.NullTime
	if !s.OpenEnded() {
		to = sql.NullTime{Time: s.EffectiveTo.UTC(), Valid: true}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (zone_id, effective_from, effective_to,
	retailer_markup_per_kwh, retailer_subscription_month,
	grid_transfer_per_kwh, grid_energy_tax_per_kwh,
	grid_subscription_month, vat_rate)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric)`, r.tariffTable)
	_, err := r.db.ExecContext(ctx, query, zoneID, s.EffectiveFrom.UTC(), to,
		s.RetailerMarkupPerKWh.String(), s.RetailerSubscriptionMonth.String(),
		s.GridTransferPerKWh.String(), s.GridEnergyTaxPerKWh.String(),
		s.GridSubscriptionMonth.String(), s.VATRate.String())
	return err
}

// ListAllocations returns the stored zone shares.
func (r *SettingsRepository) ListAllocations(ctx context.Context) ([]AllocationRow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settings repo: nil db")
	}
	query := fmt.Sprintf(`SELECT zone_id, subscription_share, contributes FROM %s ORDER BY zone_id`, r.allocationTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllocationRow
	for rows.Next() {
		var row AllocationRow
		if err := rows.Scan(&row.ZoneID, &row.Share, &row.Contributes); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertAllocation stores a zone share.
func (r *SettingsRepository) UpsertAllocation(ctx context.Context, row AllocationRow) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (zone_id, subscription_share, contributes)
VALUES ($1, $2, $3)
ON CONFLICT (zone_id) DO UPDATE SET
	subscription_share = EXCLUDED.subscription_share,
	contributes = EXCLUDED.contributes`, r.allocationTable)
	_, err := r.db.ExecContext(ctx, query, row.ZoneID, row.Share, row.Contributes)
	return err
}
