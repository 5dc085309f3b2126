package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupTotal is one provider group settled the way an invoice is: ex-VAT
// amounts summed and rounded to öre, VAT applied once to the rounded sum.
type GroupTotal struct {
	SubtotalExVAT decimal.Decimal
	VAT           decimal.Decimal
	TotalInclVAT  decimal.Decimal
}

// Add sums two settled groups without re-rounding.
func (g GroupTotal) Add(other GroupTotal) GroupTotal {
	return GroupTotal{
		SubtotalExVAT: g.SubtotalExVAT.Add(other.SubtotalExVAT),
		VAT:           g.VAT.Add(other.VAT),
		TotalInclVAT:  g.TotalInclVAT.Add(other.TotalInclVAT),
	}
}

// RetailerTotal itemizes the retailer group of a zone, ex VAT.
type RetailerTotal struct {
	Spot         decimal.Decimal
	Markup       decimal.Decimal
	Subscription decimal.Decimal
	Contribution decimal.Decimal
	Settled      GroupTotal
}

// GridTotal itemizes the grid operator group of a zone, ex VAT.
type GridTotal struct {
	Transfer     decimal.Decimal
	EnergyTax    decimal.Decimal
	Subscription decimal.Decimal
	Contribution decimal.Decimal
	Settled      GroupTotal
}

// MonthlyZoneTotal is the monthly sum of one zone. Absent zones have no
// consumption or variable cost; their fixed allocations are still listed.
type MonthlyZoneTotal struct {
	ZoneID string
	Name   string
	Kind   ZoneKind
	Absent bool

	ConsumptionKWh       float64
	PricedConsumptionKWh float64
	UnpricedHours        int
	EstimatedHours       []time.Time
	Quality              QualityScore

	Retailer     RetailerTotal
	Grid         GridTotal
	TotalInclVAT decimal.Decimal

	Charges       []SubscriptionCharge
	Contributions []SubscriptionContribution
}

// BuildingTotal sums all zones.
type BuildingTotal struct {
	ConsumptionKWh       float64
	PricedConsumptionKWh float64
	SpotExVAT            decimal.Decimal
	Retailer             GroupTotal
	Grid                 GroupTotal
	TotalInclVAT         decimal.Decimal
	// AbsentZoneFixed is the settled fixed cost of zones without data, already
	// included in TotalInclVAT.
	AbsentZoneFixed decimal.Decimal
}

// MonthlyReport is the itemized cost report of one month.
type MonthlyReport struct {
	Period   Period
	Zones    []MonthlyZoneTotal
	Building BuildingTotal
	// Rates is the building schedule in effect at the period start.
	Rates TariffSchedule

	AverageSpotPerKWh      *decimal.Decimal
	AverageEffectivePerKWh *decimal.Decimal
	PricedHours            int
	TotalHours             int
	PricedCoverage         float64

	// Lines is ordered by hour, then by zone display order.
	Lines []HourlyCostLine

	SettingsVersion string
	GeneratedAt     time.Time
}

// Zone returns the total of zoneID.
func (r *MonthlyReport) Zone(zoneID string) (MonthlyZoneTotal, bool) {
	for _, z := range r.Zones {
		if z.ZoneID == zoneID {
			return z, true
		}
	}
	return MonthlyZoneTotal{}, false
}

// AggregateInput is everything the aggregator needs. Series and Table rows
// follow the order of Zones.
type AggregateInput struct {
	Period     Period
	Zones      []Zone
	Series     []RepairedSeries
	Table      *CostTable
	Fixed      TariffSchedule
	Allocation AllocationPolicy
}

// Aggregate folds the cost table into zone and building totals. It fails with
// insufficient_data when no zone has readings, unless the period has no
// finished hour yet.
func Aggregate(in AggregateInput) (*MonthlyReport, error) {
	if in.Table == nil || len(in.Series) != len(in.Zones) || len(in.Table.Lines) != len(in.Zones) {
		return nil, configurationError("aggregate input is not aligned with zones")
	}
	present := 0
	for _, s := range in.Series {
		if !s.Absent {
			present++
		}
	}
	if present == 0 && in.Period.HourCount() > 0 {
		return nil, insufficientData("no zone has readings for %s", in.Period.Month)
	}

	zoneIDs := make([]string, len(in.Zones))
	for i, z := range in.Zones {
		zoneIDs[i] = z.ID
	}
	// rounding ties go to the earlier zone in display order
	allocation := in.Allocation.InDisplayOrder(zoneIDs)
	fixed := make(map[string][]FixedAllocation, len(in.Zones))
	for _, a := range allocation.Allocate(PoolRetailer, in.Fixed.RetailerSubscriptionMonth) {
		fixed[a.AllocationZone()] = append(fixed[a.AllocationZone()], a)
	}
	for _, a := range allocation.Allocate(PoolGrid, in.Fixed.GridSubscriptionMonth) {
		fixed[a.AllocationZone()] = append(fixed[a.AllocationZone()], a)
	}

	report := &MonthlyReport{
		Period:         in.Period,
		Rates:          in.Fixed,
		PricedHours:    in.Table.PricedHours,
		TotalHours:     len(in.Table.Hours),
		PricedCoverage: in.Table.PricedCoverage(),
		Zones:          make([]MonthlyZoneTotal, len(in.Zones)),
	}
	building := BuildingTotal{}
	for zi, zone := range in.Zones {
		zt := sumZone(zone, in.Series[zi], in.Table.ZoneLines(zi), fixed[zone.ID], in.Fixed.VATRate)
		report.Zones[zi] = zt
		building.Retailer = building.Retailer.Add(zt.Retailer.Settled)
		building.Grid = building.Grid.Add(zt.Grid.Settled)
		building.TotalInclVAT = building.TotalInclVAT.Add(zt.TotalInclVAT)
		building.SpotExVAT = building.SpotExVAT.Add(zt.Retailer.Spot)
		building.ConsumptionKWh += zt.ConsumptionKWh
		building.PricedConsumptionKWh += zt.PricedConsumptionKWh
		if zt.Absent {
			building.AbsentZoneFixed = building.AbsentZoneFixed.Add(zt.TotalInclVAT)
		}
	}
	report.Building = building

	if building.PricedConsumptionKWh > 0 {
		kwh := decimal.NewFromFloat(building.PricedConsumptionKWh)
		spot := building.SpotExVAT.Div(kwh)
		// fixed costs of absent zones are not backed by any consumption
		effective := building.TotalInclVAT.Sub(building.AbsentZoneFixed).Div(kwh)
		report.AverageSpotPerKWh = &spot
		report.AverageEffectivePerKWh = &effective
	}
	report.Lines = orderLines(in.Table)
	return report, nil
}

func sumZone(zone Zone, series RepairedSeries, lines []HourlyCostLine, fixed []FixedAllocation, vatRate decimal.Decimal) MonthlyZoneTotal {
	zt := MonthlyZoneTotal{
		ZoneID:         zone.ID,
		Name:           zone.Name,
		Kind:           zone.Kind,
		Absent:         series.Absent,
		Quality:        series.Quality,
		EstimatedHours: series.EstimatedHours,
	}
	retailer := newVATBuckets()
	grid := newVATBuckets()
	for _, l := range lines {
		zt.ConsumptionKWh += l.ConsumptionKWh
		if !l.Priced {
			zt.UnpricedHours++
			continue
		}
		zt.PricedConsumptionKWh += l.ConsumptionKWh
		zt.Retailer.Spot = zt.Retailer.Spot.Add(l.Cost.RetailerSpot)
		zt.Retailer.Markup = zt.Retailer.Markup.Add(l.Cost.RetailerMarkup)
		zt.Grid.Transfer = zt.Grid.Transfer.Add(l.Cost.GridTransfer)
		zt.Grid.EnergyTax = zt.Grid.EnergyTax.Add(l.Cost.GridEnergyTax)
		retailer.add(l.VATRate, l.Cost.RetailerExVAT())
		grid.add(l.VATRate, l.Cost.GridExVAT())
	}

	for _, a := range fixed {
		amount := a.AllocationAmount()
		switch v := a.(type) {
		case SubscriptionCharge:
			zt.Charges = append(zt.Charges, v)
			if v.Pool == PoolRetailer {
				zt.Retailer.Subscription = zt.Retailer.Subscription.Add(amount)
			} else {
				zt.Grid.Subscription = zt.Grid.Subscription.Add(amount)
			}
		case SubscriptionContribution:
			zt.Contributions = append(zt.Contributions, v)
			if v.Pool == PoolRetailer {
				zt.Retailer.Contribution = zt.Retailer.Contribution.Add(amount)
			} else {
				zt.Grid.Contribution = zt.Grid.Contribution.Add(amount)
			}
		}
		if a.AllocationPool() == PoolRetailer {
			retailer.add(vatRate, amount)
		} else {
			grid.add(vatRate, amount)
		}
	}

	zt.Retailer.Settled = retailer.settle()
	zt.Grid.Settled = grid.settle()
	zt.TotalInclVAT = zt.Retailer.Settled.TotalInclVAT.Add(zt.Grid.Settled.TotalInclVAT)
	return zt
}

// vatBuckets keeps ex-VAT sums per VAT rate so a group spanning a rate
// change still applies each rate once.
type vatBuckets struct {
	order []string
	rates map[string]decimal.Decimal
	sums  map[string]decimal.Decimal
}

func newVATBuckets() *vatBuckets {
	return &vatBuckets{rates: map[string]decimal.Decimal{}, sums: map[string]decimal.Decimal{}}
}

func (b *vatBuckets) add(rate, amount decimal.Decimal) {
	key := rate.String()
	if _, ok := b.rates[key]; !ok {
		b.order = append(b.order, key)
		b.rates[key] = rate
	}
	b.sums[key] = b.sums[key].Add(amount)
}

func (b *vatBuckets) settle() GroupTotal {
	var g GroupTotal
	vat := decimal.Zero
	for _, key := range b.order {
		subtotal := b.sums[key].Round(2)
		g.SubtotalExVAT = g.SubtotalExVAT.Add(subtotal)
		vat = vat.Add(subtotal.Mul(b.rates[key]))
	}
	g.VAT = vat.Round(2)
	g.TotalInclVAT = g.SubtotalExVAT.Add(g.VAT)
	return g
}

func orderLines(t *CostTable) []HourlyCostLine {
	out := make([]HourlyCostLine, 0, len(t.Hours)*len(t.Zones))
	for hi := range t.Hours {
		for zi := range t.Zones {
			lines := t.Lines[zi]
			if hi < len(lines) {
				out = append(out, lines[hi])
			}
		}
	}
	return out
}
