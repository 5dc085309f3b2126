package interfaces

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	billing "home-analytics/internal/billing/domain"
	"home-analytics/internal/observability/metrics"
)

// Invoice output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// InvoiceHandler serves the invoice rollup as JSON, CSV or XLSX.
type InvoiceHandler struct {
	reports ReportBuilder
	format  string
	logger  *log.Logger
}

// NewInvoiceHandler constructs a handler for one output format.
func NewInvoiceHandler(reports ReportBuilder, format string, logger *log.Logger) (*InvoiceHandler, error) {
	if reports == nil {
		return nil, errors.New("invoice handler: nil report builder")
	}
	switch format {
	case FormatJSON, FormatCSV, FormatXLSX:
	default:
		return nil, fmt.Errorf("invoice handler: unknown format %q", format)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &InvoiceHandler{reports: reports, format: format, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/reports/invoice{,.csv,.xlsx}
// ?zone=&start_year=&start_month=&end_year=&end_month=.
func (h *InvoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var bounds [4]int
	for i, key := range []string{"start_year", "start_month", "end_year", "end_month"} {
		v, err := intQuery(q.Get(key), key)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		bounds[i] = v
	}

	inv, err := h.reports.BuildInvoice(r.Context(), q.Get("zone"), bounds[0], bounds[1], bounds[2], bounds[3])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if h.format == FormatJSON {
		writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
		return
	}

	start := time.Now()
	var (
		payload     []byte
		contentType string
	)
	switch h.format {
	case FormatCSV:
		payload, err = BuildInvoiceCSV(inv)
		contentType = "text/csv; charset=utf-8"
	case FormatXLSX:
		payload, err = BuildInvoiceXLSX(inv)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveExport(h.format, result, time.Since(start))
	if err != nil {
		h.logger.Printf("invoice export: format=%s err=%v", h.format, err)
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", invoiceFilename(inv, h.format)))
	_, _ = w.Write(payload)
}

var invoiceHeader = []string{
	"period",
	"period_start",
	"period_end",
	"meter_reading_kwh",
	"consumption_kwh",
	"cost_per_kwh",
	"total_cost",
}

// BuildInvoiceCSV renders rows plus a total line. Unknown values are empty.
func BuildInvoiceCSV(inv *billing.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(invoiceHeader); err != nil {
		return nil, err
	}
	for _, row := range inv.Rows {
		if err := writer.Write([]string{
			row.PeriodLabel,
			row.PeriodStart.Format("2006-01-02"),
			row.PeriodEnd.Format("2006-01-02"),
			formatOptionalFloat(row.MeterReadingKWh),
			formatOptionalFloat(row.ConsumptionKWh),
			formatOptionalDecimal(row.CostPerKWh),
			formatOptionalDecimal(row.TotalCost),
		}); err != nil {
			return nil, err
		}
	}
	total := inv.TotalCost.Round(2)
	if err := writer.Write([]string{
		"Totalt",
		"",
		"",
		"",
		strconv.FormatFloat(inv.TotalConsumptionKWh, 'f', -1, 64),
		formatOptionalDecimal(inv.AverageCostPerKWh),
		formatOptionalDecimal(&total),
	}); err != nil {
		return nil, err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildInvoiceXLSX renders a summary sheet and a rows sheet.
func BuildInvoiceXLSX(inv *billing.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary := "summary"
	rows := "rows"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(rows); err != nil {
		return nil, err
	}

	cells := []struct {
		cell  string
		value any
	}{
		{"A1", "Invoice"},
		{"A3", "Zone"},
		{"B3", inv.ZoneName},
		{"A4", "From"},
		{"B4", inv.Start.Label()},
		{"A5", "To"},
		{"B5", inv.End.Label()},
		{"A6", "Consumption (kWh)"},
		{"B6", inv.TotalConsumptionKWh},
		{"A7", "Total cost"},
		{"B7", money(inv.TotalCost, 2)},
		{"A8", "Average cost per kWh"},
	}
	if inv.AverageCostPerKWh != nil {
		cells = append(cells, struct {
			cell  string
			value any
		}{"B8", money(*inv.AverageCostPerKWh, 2)})
	}
	for _, c := range cells {
		if err := f.SetCellValue(summary, c.cell, c.value); err != nil {
			return nil, err
		}
	}

	for i, name := range invoiceHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(rows, cell, name); err != nil {
			return nil, err
		}
	}
	for i, row := range inv.Rows {
		values := []any{
			row.PeriodLabel,
			row.PeriodStart.Format("2006-01-02"),
			row.PeriodEnd.Format("2006-01-02"),
			cellFloat(row.MeterReadingKWh),
			cellFloat(row.ConsumptionKWh),
			cellDecimal(row.CostPerKWh),
			cellDecimal(row.TotalCost),
		}
		for col, v := range values {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(rows, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func invoiceFilename(inv *billing.Invoice, format string) string {
	return fmt.Sprintf("invoice-%s-%s-%s.%s", inv.ZoneID, inv.Start.Key(), inv.End.Key(), format)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatOptionalDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func cellFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func cellDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return money(*d, 2)
}
