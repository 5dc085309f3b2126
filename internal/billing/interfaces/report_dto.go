package interfaces

import (
	"time"

	"github.com/shopspring/decimal"

	billing "home-analytics/internal/billing/domain"
)

const timeLayout = time.RFC3339

type groupDTO struct {
	SubtotalExVAT float64 `json:"subtotal_ex_vat"`
	VAT           float64 `json:"vat"`
	TotalInclVAT  float64 `json:"total_incl_vat"`
}

type retailerDTO struct {
	Spot         float64  `json:"spot"`
	Markup       float64  `json:"markup"`
	Subscription float64  `json:"subscription"`
	Contribution float64  `json:"contribution"`
	Settled      groupDTO `json:"settled"`
}

type gridDTO struct {
	Transfer     float64  `json:"transfer"`
	EnergyTax    float64  `json:"energy_tax"`
	Subscription float64  `json:"subscription"`
	Contribution float64  `json:"contribution"`
	Settled      groupDTO `json:"settled"`
}

type allocationDTO struct {
	Pool        string  `json:"pool"`
	Share       float64 `json:"share"`
	AmountExVAT float64 `json:"amount_ex_vat"`
}

type qualityDTO struct {
	RealHours  int     `json:"real_hours"`
	TotalHours int     `json:"total_hours"`
	Ratio      float64 `json:"ratio"`
	Flagged    bool    `json:"flagged"`
}

type zoneTotalDTO struct {
	ZoneID               string          `json:"zone_id"`
	Name                 string          `json:"name"`
	Kind                 string          `json:"kind"`
	Absent               bool            `json:"absent"`
	ConsumptionKWh       float64         `json:"consumption_kwh"`
	PricedConsumptionKWh float64         `json:"priced_consumption_kwh"`
	UnpricedHours        int             `json:"unpriced_hours"`
	EstimatedHours       []string        `json:"estimated_hours"`
	Quality              qualityDTO      `json:"quality"`
	Retailer             retailerDTO     `json:"retailer"`
	Grid                 gridDTO         `json:"grid"`
	TotalInclVAT         float64         `json:"total_incl_vat"`
	Charges              []allocationDTO `json:"subscription_charges"`
	Contributions        []allocationDTO `json:"subscription_contributions"`
}

type buildingDTO struct {
	ConsumptionKWh       float64  `json:"consumption_kwh"`
	PricedConsumptionKWh float64  `json:"priced_consumption_kwh"`
	SpotExVAT            float64  `json:"spot_ex_vat"`
	Retailer             groupDTO `json:"retailer"`
	Grid                 groupDTO `json:"grid"`
	TotalInclVAT         float64  `json:"total_incl_vat"`
	AbsentZoneFixed      float64  `json:"absent_zone_fixed"`
}

type ratesDTO struct {
	EffectiveFrom             string  `json:"effective_from"`
	RetailerMarkupPerKWh      float64 `json:"retailer_markup_per_kwh"`
	RetailerSubscriptionMonth float64 `json:"retailer_subscription_month"`
	GridTransferPerKWh        float64 `json:"grid_transfer_per_kwh"`
	GridEnergyTaxPerKWh       float64 `json:"grid_energy_tax_per_kwh"`
	GridSubscriptionMonth     float64 `json:"grid_subscription_month"`
	VATRate                   float64 `json:"vat_rate"`
}

type lineDTO struct {
	ZoneID         string  `json:"zone_id"`
	Hour           string  `json:"hour"`
	ConsumptionKWh float64 `json:"consumption_kwh"`
	Estimated      bool    `json:"estimated"`
	Priced         bool    `json:"priced"`
	SpotPerKWh     float64 `json:"spot_per_kwh,omitempty"`
	RetailerSpot   float64 `json:"retailer_spot"`
	RetailerMarkup float64 `json:"retailer_markup"`
	GridTransfer   float64 `json:"grid_transfer"`
	GridEnergyTax  float64 `json:"grid_energy_tax"`
	TotalInclVAT   float64 `json:"total_incl_vat"`
}

type monthlyReportDTO struct {
	Month                  string         `json:"month"`
	PeriodStart            string         `json:"period_start"`
	PeriodEnd              string         `json:"period_end"`
	InProgress             bool           `json:"in_progress"`
	ElapsedRatio           float64        `json:"elapsed_ratio"`
	Zones                  []zoneTotalDTO `json:"zones"`
	Building               buildingDTO    `json:"building"`
	Rates                  ratesDTO       `json:"rates"`
	AverageSpotPerKWh      *float64       `json:"average_spot_per_kwh"`
	AverageEffectivePerKWh *float64       `json:"average_effective_per_kwh"`
	PricedHours            int            `json:"priced_hours"`
	TotalHours             int            `json:"total_hours"`
	PricedCoverage         float64        `json:"priced_coverage"`
	Lines                  []lineDTO      `json:"lines,omitempty"`
	SettingsVersion        string         `json:"settings_version"`
	GeneratedAt            string         `json:"generated_at"`
}

func toMonthlyReportDTO(r *billing.MonthlyReport, hourly bool) monthlyReportDTO {
	out := monthlyReportDTO{
		Month:                  r.Period.Month.String(),
		PeriodStart:            r.Period.Start.Format(timeLayout),
		PeriodEnd:              r.Period.End.Format(timeLayout),
		InProgress:             r.Period.InProgress,
		ElapsedRatio:           r.Period.ElapsedRatio(),
		Zones:                  make([]zoneTotalDTO, 0, len(r.Zones)),
		Building:               toBuildingDTO(r.Building),
		Rates:                  toRatesDTO(r.Rates, r.Period.Location),
		AverageSpotPerKWh:      optionalMoney(r.AverageSpotPerKWh, 4),
		AverageEffectivePerKWh: optionalMoney(r.AverageEffectivePerKWh, 4),
		PricedHours:            r.PricedHours,
		TotalHours:             r.TotalHours,
		PricedCoverage:         r.PricedCoverage,
		SettingsVersion:        r.SettingsVersion,
		GeneratedAt:            r.GeneratedAt.Format(timeLayout),
	}
	for _, z := range r.Zones {
		out.Zones = append(out.Zones, toZoneTotalDTO(z, r.Period.Location))
	}
	if hourly {
		out.Lines = make([]lineDTO, 0, len(r.Lines))
		for _, l := range r.Lines {
			out.Lines = append(out.Lines, lineDTO{
				ZoneID:         l.ZoneID,
				Hour:           l.Hour.In(r.Period.Location).Format(timeLayout),
				ConsumptionKWh: l.ConsumptionKWh,
				Estimated:      l.Estimated,
				Priced:         l.Priced,
				SpotPerKWh:     l.SpotPerKWh,
				RetailerSpot:   money(l.Cost.RetailerSpot, 4),
				RetailerMarkup: money(l.Cost.RetailerMarkup, 4),
				GridTransfer:   money(l.Cost.GridTransfer, 4),
				GridEnergyTax:  money(l.Cost.GridEnergyTax, 4),
				TotalInclVAT:   money(l.Cost.TotalInclVAT, 4),
			})
		}
	}
	return out
}

func toZoneTotalDTO(z billing.MonthlyZoneTotal, loc *time.Location) zoneTotalDTO {
	out := zoneTotalDTO{
		ZoneID:               z.ZoneID,
		Name:                 z.Name,
		Kind:                 string(z.Kind),
		Absent:               z.Absent,
		ConsumptionKWh:       z.ConsumptionKWh,
		PricedConsumptionKWh: z.PricedConsumptionKWh,
		UnpricedHours:        z.UnpricedHours,
		EstimatedHours:       make([]string, 0, len(z.EstimatedHours)),
		Quality: qualityDTO{
			RealHours:  z.Quality.RealHours,
			TotalHours: z.Quality.TotalHours,
			Ratio:      z.Quality.Ratio,
			Flagged:    z.Quality.Flagged,
		},
		Retailer: retailerDTO{
			Spot:         money(z.Retailer.Spot, 2),
			Markup:       money(z.Retailer.Markup, 2),
			Subscription: money(z.Retailer.Subscription, 2),
			Contribution: money(z.Retailer.Contribution, 2),
			Settled:      toGroupDTO(z.Retailer.Settled),
		},
		Grid: gridDTO{
			Transfer:     money(z.Grid.Transfer, 2),
			EnergyTax:    money(z.Grid.EnergyTax, 2),
			Subscription: money(z.Grid.Subscription, 2),
			Contribution: money(z.Grid.Contribution, 2),
			Settled:      toGroupDTO(z.Grid.Settled),
		},
		TotalInclVAT:  money(z.TotalInclVAT, 2),
		Charges:       []allocationDTO{},
		Contributions: []allocationDTO{},
	}
	for _, h := range z.EstimatedHours {
		out.EstimatedHours = append(out.EstimatedHours, h.In(loc).Format(timeLayout))
	}
	for _, c := range z.Charges {
		out.Charges = append(out.Charges, allocationDTO{Pool: string(c.Pool), Share: c.Share, AmountExVAT: money(c.AmountExVAT, 2)})
	}
	for _, c := range z.Contributions {
		out.Contributions = append(out.Contributions, allocationDTO{Pool: string(c.Pool), Share: c.Share, AmountExVAT: money(c.AmountExVAT, 2)})
	}
	return out
}

func toBuildingDTO(b billing.BuildingTotal) buildingDTO {
	return buildingDTO{
		ConsumptionKWh:       b.ConsumptionKWh,
		PricedConsumptionKWh: b.PricedConsumptionKWh,
		SpotExVAT:            money(b.SpotExVAT, 2),
		Retailer:             toGroupDTO(b.Retailer),
		Grid:                 toGroupDTO(b.Grid),
		TotalInclVAT:         money(b.TotalInclVAT, 2),
		AbsentZoneFixed:      money(b.AbsentZoneFixed, 2),
	}
}

func toGroupDTO(g billing.GroupTotal) groupDTO {
	return groupDTO{
		SubtotalExVAT: money(g.SubtotalExVAT, 2),
		VAT:           money(g.VAT, 2),
		TotalInclVAT:  money(g.TotalInclVAT, 2),
	}
}

func toRatesDTO(s billing.TariffSchedule, loc *time.Location) ratesDTO {
	out := ratesDTO{
		RetailerMarkupPerKWh:      money(s.RetailerMarkupPerKWh, 6),
		RetailerSubscriptionMonth: money(s.RetailerSubscriptionMonth, 2),
		GridTransferPerKWh:        money(s.GridTransferPerKWh, 6),
		GridEnergyTaxPerKWh:       money(s.GridEnergyTaxPerKWh, 6),
		GridSubscriptionMonth:     money(s.GridSubscriptionMonth, 2),
		VATRate:                   money(s.VATRate, 4),
	}
	if !s.EffectiveFrom.IsZero() {
		out.EffectiveFrom = s.EffectiveFrom.In(loc).Format(timeLayout)
	}
	return out
}

type invoiceRowDTO struct {
	Period          string   `json:"period"`
	Month           string   `json:"month"`
	PeriodStart     string   `json:"period_start"`
	PeriodEnd       string   `json:"period_end"`
	MeterReadingKWh *float64 `json:"meter_reading_kwh"`
	ConsumptionKWh  *float64 `json:"consumption_kwh"`
	CostPerKWh      *float64 `json:"cost_per_kwh"`
	TotalCost       *float64 `json:"total_cost"`
}

type invoiceDTO struct {
	ZoneID              string          `json:"zone_id"`
	ZoneName            string          `json:"zone_name"`
	Start               string          `json:"start"`
	End                 string          `json:"end"`
	Rows                []invoiceRowDTO `json:"rows"`
	TotalConsumptionKWh float64         `json:"total_consumption_kwh"`
	TotalCost           float64         `json:"total_cost"`
	AverageCostPerKWh   *float64        `json:"average_cost_per_kwh"`
}

func toInvoiceDTO(inv *billing.Invoice) invoiceDTO {
	out := invoiceDTO{
		ZoneID:              inv.ZoneID,
		ZoneName:            inv.ZoneName,
		Start:               inv.Start.String(),
		End:                 inv.End.String(),
		Rows:                make([]invoiceRowDTO, 0, len(inv.Rows)),
		TotalConsumptionKWh: inv.TotalConsumptionKWh,
		TotalCost:           money(inv.TotalCost, 2),
		AverageCostPerKWh:   optionalMoney(inv.AverageCostPerKWh, 2),
	}
	for _, row := range inv.Rows {
		out.Rows = append(out.Rows, invoiceRowDTO{
			Period:          row.PeriodLabel,
			Month:           row.Month.String(),
			PeriodStart:     row.PeriodStart.Format("2006-01-02"),
			PeriodEnd:       row.PeriodEnd.Format("2006-01-02"),
			MeterReadingKWh: row.MeterReadingKWh,
			ConsumptionKWh:  row.ConsumptionKWh,
			CostPerKWh:      optionalMoney(row.CostPerKWh, 2),
			TotalCost:       optionalMoney(row.TotalCost, 2),
		})
	}
	return out
}

func money(d decimal.Decimal, places int32) float64 {
	return d.Round(places).InexactFloat64()
}

func optionalMoney(d *decimal.Decimal, places int32) *float64 {
	if d == nil {
		return nil
	}
	v := money(*d, places)
	return &v
}
