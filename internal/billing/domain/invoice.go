package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxInvoiceMonths bounds a single invoice rollup.
const MaxInvoiceMonths = 24

var swedishMonths = [...]string{
	"Januari", "Februari", "Mars", "April", "Maj", "Juni",
	"Juli", "Augusti", "September", "Oktober", "November", "December",
}

// Label renders the month the way invoices print it, e.g. "Januari 2025".
func (m Month) Label() string {
	return fmt.Sprintf("%s %d", swedishMonths[m.Month-1], m.Year)
}

// InvoiceMonth is the input for one invoice row.
type InvoiceMonth struct {
	Month Month
	Meter MeterWindow
	// TotalInclVAT is the zone's monthly total, nil when the zone had no data.
	TotalInclVAT *decimal.Decimal
}

// InvoiceRow is one month of an invoice rollup. Nil fields render as null.
type InvoiceRow struct {
	ZoneID          string
	Month           Month
	PeriodLabel     string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	MeterReadingKWh *float64
	ConsumptionKWh  *float64
	CostPerKWh      *decimal.Decimal
	TotalCost       *decimal.Decimal
}

// Invoice is a multi-month rollup for one billed zone.
type Invoice struct {
	ZoneID              string
	ZoneName            string
	Start               Month
	End                 Month
	Rows                []InvoiceRow
	TotalConsumptionKWh float64
	TotalCost           decimal.Decimal
	AverageCostPerKWh   *decimal.Decimal
}

// ValidateInvoiceRange checks ordering and the maximum span.
func ValidateInvoiceRange(start, end Month) error {
	span := MonthSpan(start, end)
	if span <= 0 {
		return invalidRange("invoice start %s is after end %s", start, end)
	}
	if span > MaxInvoiceMonths {
		return invalidRange("invoice range spans %d months, max %d", span, MaxInvoiceMonths)
	}
	return nil
}

// BuildInvoice derives monthly consumption from cumulative meter readings.
// The baseline of a month is the previous month's closing reading, or the
// month's own opening reading when the previous month had none, so a gap
// month yields a null row without shifting later months.
func BuildInvoice(zone Zone, baseline *float64, months []InvoiceMonth, loc *time.Location) Invoice {
	if loc == nil {
		loc = time.UTC
	}
	inv := Invoice{ZoneID: zone.ID, ZoneName: zone.Name, Rows: make([]InvoiceRow, 0, len(months))}
	if len(months) > 0 {
		inv.Start = months[0].Month
		inv.End = months[len(months)-1].Month
	}

	var billedCost decimal.Decimal
	var billedKWh float64
	prev := baseline
	for _, m := range months {
		row := InvoiceRow{
			ZoneID:      zone.ID,
			Month:       m.Month,
			PeriodLabel: m.Month.Label(),
			PeriodStart: m.Month.Start(loc),
			PeriodEnd:   m.Month.End(loc).AddDate(0, 0, -1),
		}
		closing := m.Meter.Closing
		if closing == nil {
			inv.Rows = append(inv.Rows, row)
			prev = nil
			continue
		}
		row.MeterReadingKWh = floatPtr(*closing)
		base := prev
		if base == nil {
			base = m.Meter.Opening
		}
		prev = closing
		if base == nil || *closing < *base {
			inv.Rows = append(inv.Rows, row)
			continue
		}
		consumption := *closing - *base
		row.ConsumptionKWh = floatPtr(consumption)
		inv.TotalConsumptionKWh += consumption
		if m.TotalInclVAT != nil {
			total := *m.TotalInclVAT
			row.TotalCost = &total
			inv.TotalCost = inv.TotalCost.Add(total)
			if consumption > 0 {
				perKWh := total.Div(decimal.NewFromFloat(consumption)).Round(2)
				row.CostPerKWh = &perKWh
				billedCost = billedCost.Add(total)
				billedKWh += consumption
			}
		}
		inv.Rows = append(inv.Rows, row)
	}
	if billedKWh > 0 {
		avg := billedCost.Div(decimal.NewFromFloat(billedKWh)).Round(2)
		inv.AverageCostPerKWh = &avg
	}
	return inv
}

func floatPtr(v float64) *float64 { return &v }
