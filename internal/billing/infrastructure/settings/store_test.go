package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	billing "home-analytics/internal/billing/domain"
)

const sampleYAML = `
timezone: Europe/Stockholm
home_zone: home
invoice_zone: guest
building_meter: sensor.building_energy
repair:
  quality_threshold: 0.95
zones:
  - id: home
    name: Home
    sensor: sensor.home_energy
    share: 0.8
  - id: guest
    name: Guest house
    sensor: sensor.guest_energy
    share: 0.2
    contributes: true
  - id: shared
    kind: remainder
tariffs:
  - effective_from: 2024-01-01
    effective_to: 2025-01-01
    retailer_markup_per_kwh: "0.068"
    retailer_subscription_month: "39.20"
    grid_transfer_per_kwh: "0.2456"
    grid_energy_tax_per_kwh: "0.439"
    grid_subscription_month: "805.00"
  - effective_from: 2025-01-01
    retailer_markup_per_kwh: "0.068"
    retailer_subscription_month: "39.20"
    grid_transfer_per_kwh: "0.2500"
    grid_energy_tax_per_kwh: "0.439"
    grid_subscription_month: "805.00"
  - zone: guest
    effective_from: 2024-01-01
    retailer_markup_per_kwh: "0"
    grid_transfer_per_kwh: "0.2456"
    grid_energy_tax_per_kwh: "0.439"
`

func TestDocumentBuild(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	cfg, err := doc.Build()
	require.NoError(t, err)

	assert.Equal(t, "Europe/Stockholm", cfg.Location.String())
	assert.Equal(t, []string{"home", "guest", "shared"}, cfg.ZoneIDs())
	assert.Equal(t, 0.95, cfg.Repair.QualityThreshold)
	assert.NotEmpty(t, cfg.Version)

	shared, ok := cfg.Zone("shared")
	require.True(t, ok)
	assert.Equal(t, billing.ZoneRemainder, shared.Kind)
	assert.Equal(t, "shared", shared.Name)

	require.Len(t, cfg.Allocation.Rules, 3)
	assert.True(t, cfg.Allocation.Rules[1].ContributesToSharedSubscription)

	midnight := time.Date(2025, 1, 1, 0, 0, 0, 0, cfg.Location)
	before, err := cfg.Tariffs.Resolve("home", midnight.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "0.2456", before.GridTransferPerKWh.String())
	after, err := cfg.Tariffs.Resolve("home", midnight)
	require.NoError(t, err)
	assert.Equal(t, "0.25", after.GridTransferPerKWh.String())
	assert.Equal(t, "0.25", after.VATRate.String())

	guest, err := cfg.Tariffs.Resolve("guest", midnight)
	require.NoError(t, err)
	assert.True(t, guest.RetailerMarkupPerKWh.IsZero())
}

func TestDocumentBuildRejectsBadShares(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	doc.Zones[0].Share = 0.9

	_, err = doc.Build()

	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrConfiguration))
}

func TestDocumentVersionChangesWithContent(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	v1, err := doc.Version()
	require.NoError(t, err)

	doc.Tariffs[1].GridTransferPerKWh = "0.26"
	v2, err := doc.Version()
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestStoreReloadSwapsAndKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	store, err := NewStore(context.Background(), FileLoader(path), nil)
	require.NoError(t, err)
	first := store.Current()
	require.NotNil(t, first)

	require.NoError(t, os.WriteFile(path, []byte("zones: ["), 0o600))
	_, err = store.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, first, store.Current())

	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	doc.Tariffs[1].GridTransferPerKWh = "0.30"
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	next, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Version, next.Version)
	assert.Same(t, next, store.Current())
}

func TestResolveBaseTariffFollowsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	store, err := NewStore(context.Background(), FileLoader(path), nil)
	require.NoError(t, err)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	schedule, err := store.ResolveBaseTariff(at)
	require.NoError(t, err)
	assert.Equal(t, "0.068", schedule.RetailerMarkupPerKWh.String())

	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	doc.Tariffs[1].RetailerMarkupPerKWh = "0.08"
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	_, err = store.Reload(context.Background())
	require.NoError(t, err)

	schedule, err = store.ResolveBaseTariff(at)
	require.NoError(t, err)
	assert.Equal(t, "0.08", schedule.RetailerMarkupPerKWh.String())

	_, err = store.ResolveBaseTariff(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, billing.KindConfiguration, billing.KindOf(err))

	_, err = NewStaticStore(nil).ResolveBaseTariff(at)
	assert.Equal(t, billing.KindConfiguration, billing.KindOf(err))
}

type shareOverlay struct {
	zone  string
	share float64
}

func (o shareOverlay) Apply(_ context.Context, doc *Document) error {
	for i := range doc.Zones {
		if doc.Zones[i].ID == o.zone {
			doc.Zones[i].Share = o.share
		}
	}
	return nil
}

func TestFileLoaderAppliesOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	loader := FileLoader(path, shareOverlay{zone: "home", share: 0.7}, shareOverlay{zone: "shared", share: 0.1})
	cfg, err := loader(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.7, cfg.Allocation.Rules[0].SubscriptionShare, 1e-9)
	assert.InDelta(t, 0.1, cfg.Allocation.Rules[2].SubscriptionShare, 1e-9)

	_, err = FileLoader(path, shareOverlay{zone: "home", share: 0.5})(context.Background())
	assert.ErrorIs(t, err, billing.ErrConfiguration)
}

func TestShippedSettingsBuild(t *testing.T) {
	doc, err := ReadFile(filepath.Join("..", "..", "..", "..", "configs", "settings.yaml"))
	require.NoError(t, err)

	cfg, err := doc.Build()
	require.NoError(t, err)

	assert.Equal(t, "gardshus", cfg.InvoiceZoneID)
	assert.Equal(t, 25.0, cfg.Repair.MaxHourlyKWh)
	remainder, ok := cfg.Zone("gemensamt")
	require.True(t, ok)
	assert.Equal(t, billing.ZoneRemainder, remainder.Kind)
}
