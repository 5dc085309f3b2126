package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	billing "home-analytics/internal/billing/domain"
)

const DefaultTimezone = "Europe/Stockholm"

// Document is the YAML shape of the tariff, zone and allocation settings.
type Document struct {
	Timezone      string         `yaml:"timezone"`
	HomeZone      string         `yaml:"home_zone"`
	InvoiceZone   string         `yaml:"invoice_zone"`
	BuildingMeter string         `yaml:"building_meter"`
	Repair        RepairDocument `yaml:"repair"`
	Zones         []ZoneDocument `yaml:"zones"`
	Tariffs       []TariffEntry  `yaml:"tariffs"`
}

// RepairDocument overrides series repair defaults.
type RepairDocument struct {
	WindowHours      int     `yaml:"window_hours"`
	MinSamples       int     `yaml:"min_samples"`
	OutlierSigma     float64 `yaml:"outlier_sigma"`
	MaxSpikeHours    int     `yaml:"max_spike_hours"`
	MaxHourlyKWh     float64 `yaml:"max_hourly_kwh"`
	QualityThreshold float64 `yaml:"quality_threshold"`
}

// ZoneDocument describes a zone and its allocation rule.
type ZoneDocument struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Sensor      string  `yaml:"sensor"`
	Kind        string  `yaml:"kind"`
	Share       float64 `yaml:"share"`
	Contributes bool    `yaml:"contributes"`
}

// TariffEntry is one schedule. Zone is empty for the building table.
// Dates are YYYY-MM-DD in the settings time zone or RFC 3339.
type TariffEntry struct {
	Zone                      string `yaml:"zone,omitempty"`
	EffectiveFrom             string `yaml:"effective_from"`
	EffectiveTo               string `yaml:"effective_to,omitempty"`
	RetailerMarkupPerKWh      string `yaml:"retailer_markup_per_kwh"`
	RetailerSubscriptionMonth string `yaml:"retailer_subscription_month"`
	GridTransferPerKWh        string `yaml:"grid_transfer_per_kwh"`
	GridEnergyTaxPerKWh       string `yaml:"grid_energy_tax_per_kwh"`
	GridSubscriptionMonth     string `yaml:"grid_subscription_month"`
	VATRate                   string `yaml:"vat_rate,omitempty"`
}

// ReadFile parses a settings document from path.
func ReadFile(path string) (*Document, error) {
	if path == "" {
		return nil, errors.New("settings: path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return &doc, nil
}

// Version hashes the canonical encoding of the document.
func (d *Document) Version() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Build converts the document into a validated settings snapshot.
func (d *Document) Build() (*billing.Settings, error) {
	tz := d.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, billing.NewConfigurationError("time zone %q: %v", tz, err)
	}
	version, err := d.Version()
	if err != nil {
		return nil, err
	}

	out := &billing.Settings{
		Version:       version,
		Location:      loc,
		BuildingMeter: d.BuildingMeter,
		InvoiceZoneID: d.InvoiceZone,
		Repair: billing.RepairPolicy{
			WindowHours:      d.Repair.WindowHours,
			MinSamples:       d.Repair.MinSamples,
			OutlierSigma:     d.Repair.OutlierSigma,
			MaxSpikeHours:    d.Repair.MaxSpikeHours,
			MaxHourlyKWh:     d.Repair.MaxHourlyKWh,
			QualityThreshold: d.Repair.QualityThreshold,
		},
		Allocation: billing.AllocationPolicy{HomeZoneID: d.HomeZone},
	}
	for _, z := range d.Zones {
		kind := billing.ZoneKind(strings.ToLower(strings.TrimSpace(z.Kind)))
		if kind == "" {
			kind = billing.ZoneMetered
		}
		name := z.Name
		if name == "" {
			name = z.ID
		}
		out.Zones = append(out.Zones, billing.Zone{ID: z.ID, Name: name, Sensor: z.Sensor, Kind: kind})
		out.Allocation.Rules = append(out.Allocation.Rules, billing.ZoneAllocationRule{
			ZoneID:                          z.ID,
			SubscriptionShare:               z.Share,
			ContributesToSharedSubscription: z.Contributes,
		})
	}

	var base []billing.TariffSchedule
	overrides := make(map[string][]billing.TariffSchedule)
	for i, entry := range d.Tariffs {
		schedule, err := entry.schedule(loc)
		if err != nil {
			return nil, billing.NewConfigurationError("tariff %d: %v", i, err)
		}
		if entry.Zone == "" {
			base = append(base, schedule)
			continue
		}
		overrides[entry.Zone] = append(overrides[entry.Zone], schedule)
	}
	book, err := billing.NewTariffBook(base, overrides)
	if err != nil {
		return nil, err
	}
	out.Tariffs = book

	if err := out.Validate(); err != nil {
		return nil, err
	}
	for zoneID := range overrides {
		if _, ok := out.Zone(zoneID); !ok {
			return nil, billing.NewConfigurationError("tariff override for unknown zone %q", zoneID)
		}
	}
	return out, nil
}

func (e TariffEntry) schedule(loc *time.Location) (billing.TariffSchedule, error) {
	var s billing.TariffSchedule
	var err error
	if s.EffectiveFrom, err = parseDate(e.EffectiveFrom, loc); err != nil {
		return s, fmt.Errorf("effective_from: %w", err)
	}
	if e.EffectiveTo != "" {
		if s.EffectiveTo, err = parseDate(e.EffectiveTo, loc); err != nil {
			return s, fmt.Errorf("effective_to: %w", err)
		}
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"retailer_markup_per_kwh", e.RetailerMarkupPerKWh, &s.RetailerMarkupPerKWh},
		{"retailer_subscription_month", e.RetailerSubscriptionMonth, &s.RetailerSubscriptionMonth},
		{"grid_transfer_per_kwh", e.GridTransferPerKWh, &s.GridTransferPerKWh},
		{"grid_energy_tax_per_kwh", e.GridEnergyTaxPerKWh, &s.GridEnergyTaxPerKWh},
		{"grid_subscription_month", e.GridSubscriptionMonth, &s.GridSubscriptionMonth},
	}
	for _, f := range fields {
		v, err := parseAmount(f.raw)
		if err != nil {
			return s, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	s.VATRate = billing.DefaultVATRate
	if e.VATRate != "" {
		if s.VATRate, err = decimal.NewFromString(strings.TrimSpace(e.VATRate)); err != nil {
			return s, fmt.Errorf("vat_rate: %w", err)
		}
	}
	return s, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
