package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineCost itemizes one hour of one zone. Component amounts are ex VAT; the
// per-component VAT is informational. Group totals apply VAT once to the sum.
type LineCost struct {
	RetailerSpot   decimal.Decimal
	RetailerMarkup decimal.Decimal
	GridTransfer   decimal.Decimal
	GridEnergyTax  decimal.Decimal

	RetailerSpotVAT   decimal.Decimal
	RetailerMarkupVAT decimal.Decimal
	GridTransferVAT   decimal.Decimal
	GridEnergyTaxVAT  decimal.Decimal

	RetailerInclVAT decimal.Decimal
	GridInclVAT     decimal.Decimal
	TotalInclVAT    decimal.Decimal
}

// RetailerExVAT is spot plus markup.
func (c LineCost) RetailerExVAT() decimal.Decimal { return c.RetailerSpot.Add(c.RetailerMarkup) }

// GridExVAT is transfer plus energy tax.
func (c LineCost) GridExVAT() decimal.Decimal { return c.GridTransfer.Add(c.GridEnergyTax) }

// HourlyCostLine is the cost of one zone for one hour. Unpriced lines carry
// consumption only.
type HourlyCostLine struct {
	ZoneID         string
	Hour           time.Time
	ConsumptionKWh float64
	Estimated      bool
	Priced         bool
	SpotPerKWh     float64
	VATRate        decimal.Decimal
	Cost           LineCost
}

// Compose prices a reading. Negative spot prices produce negative spot cost.
func Compose(r HourlyReading, spot float64, s TariffSchedule) HourlyCostLine {
	kwh := decimal.NewFromFloat(r.ConsumptionKWh)
	vat := s.VATRate
	onePlus := decimal.NewFromInt(1).Add(vat)

	c := LineCost{
		RetailerSpot:   kwh.Mul(decimal.NewFromFloat(spot)),
		RetailerMarkup: kwh.Mul(s.RetailerMarkupPerKWh),
		GridTransfer:   kwh.Mul(s.GridTransferPerKWh),
		GridEnergyTax:  kwh.Mul(s.GridEnergyTaxPerKWh),
	}
	c.RetailerSpotVAT = c.RetailerSpot.Mul(vat)
	c.RetailerMarkupVAT = c.RetailerMarkup.Mul(vat)
	c.GridTransferVAT = c.GridTransfer.Mul(vat)
	c.GridEnergyTaxVAT = c.GridEnergyTax.Mul(vat)
	c.RetailerInclVAT = c.RetailerExVAT().Mul(onePlus)
	c.GridInclVAT = c.GridExVAT().Mul(onePlus)
	c.TotalInclVAT = c.RetailerInclVAT.Add(c.GridInclVAT)

	return HourlyCostLine{
		ZoneID:         r.ZoneID,
		Hour:           r.Hour,
		ConsumptionKWh: r.ConsumptionKWh,
		Estimated:      r.Estimated,
		Priced:         true,
		SpotPerKWh:     spot,
		VATRate:        vat,
		Cost:           c,
	}
}

// Unpriced returns the line for an hour without a spot price.
func Unpriced(r HourlyReading) HourlyCostLine {
	return HourlyCostLine{
		ZoneID:         r.ZoneID,
		Hour:           r.Hour,
		ConsumptionKWh: r.ConsumptionKWh,
		Estimated:      r.Estimated,
	}
}

// CostTable is the dense zone x hour matrix of a period. Absent zones have no lines.
type CostTable struct {
	Zones []string
	Hours []time.Time
	// Lines is indexed [zone][hour].
	Lines [][]HourlyCostLine
	// PricedHours counts grid hours with a usable spot price.
	PricedHours int
}

// ZoneLines returns the lines of zone i, nil when the zone is absent.
func (t *CostTable) ZoneLines(i int) []HourlyCostLine { return t.Lines[i] }

// PricedCoverage is the share of hours with a usable price.
func (t *CostTable) PricedCoverage() float64 {
	if len(t.Hours) == 0 {
		return 0
	}
	return float64(t.PricedHours) / float64(len(t.Hours))
}

// ComposeTable prices every repaired reading on grid. A missing tariff
// schedule aborts with a configuration error; a missing price leaves the line unpriced.
func ComposeTable(grid []time.Time, series []RepairedSeries, prices PriceIndex, tariffs *TariffBook) (*CostTable, error) {
	if tariffs == nil {
		return nil, configurationError("no tariff book loaded")
	}
	table := &CostTable{
		Zones: make([]string, len(series)),
		Hours: grid,
		Lines: make([][]HourlyCostLine, len(series)),
	}
	for _, h := range grid {
		if _, ok := prices.Lookup(h); ok {
			table.PricedHours++
		}
	}
	for zi, s := range series {
		table.Zones[zi] = s.ZoneID
		if s.Absent {
			continue
		}
		lines := make([]HourlyCostLine, len(s.Readings))
		for hi, r := range s.Readings {
			schedule, err := tariffs.Resolve(s.ZoneID, r.Hour)
			if err != nil {
				return nil, err
			}
			spot, ok := prices.Lookup(r.Hour)
			if !ok {
				lines[hi] = Unpriced(r)
				continue
			}
			lines[hi] = Compose(r, spot, schedule)
		}
		table.Lines[zi] = lines
	}
	return table, nil
}
