package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	billing "home-analytics/internal/billing/domain"
)

// ReportBuilder is the engine surface served over HTTP.
type ReportBuilder interface {
	BuildMonthlyReport(ctx context.Context, year, month int) (*billing.MonthlyReport, error)
	BuildInvoice(ctx context.Context, zoneID string, startYear, startMonth, endYear, endMonth int) (*billing.Invoice, error)
	ClearCache() int
	Settings() (*billing.Settings, error)
}

// MonthlyReportHandler serves GET /api/v1/reports/monthly.
type MonthlyReportHandler struct {
	reports ReportBuilder
	logger  *log.Logger
}

// NewMonthlyReportHandler constructs the handler.
func NewMonthlyReportHandler(reports ReportBuilder, logger *log.Logger) (*MonthlyReportHandler, error) {
	if reports == nil {
		return nil, errors.New("monthly report handler: nil report builder")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MonthlyReportHandler{reports: reports, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/reports/monthly?year=&month=&hourly=.
func (h *MonthlyReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	year, err := intQuery(q.Get("year"), "year")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	month, err := intQuery(q.Get("month"), "month")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	hourly, _ := strconv.ParseBool(q.Get("hourly"))

	report, err := h.reports.BuildMonthlyReport(r.Context(), year, month)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyReportDTO(report, hourly))
}

// CacheClearHandler serves POST /api/v1/reports/cache/clear.
type CacheClearHandler struct {
	reports ReportBuilder
}

// NewCacheClearHandler constructs the handler.
func NewCacheClearHandler(reports ReportBuilder) (*CacheClearHandler, error) {
	if reports == nil {
		return nil, errors.New("cache clear handler: nil report builder")
	}
	return &CacheClearHandler{reports: reports}, nil
}

// ServeHTTP drops cached reports.
func (h *CacheClearHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": h.reports.ClearCache()})
}

// ZonesHandler serves GET /api/v1/zones.
type ZonesHandler struct {
	reports ReportBuilder
	logger  *log.Logger
}

// NewZonesHandler constructs the handler.
func NewZonesHandler(reports ReportBuilder, logger *log.Logger) (*ZonesHandler, error) {
	if reports == nil {
		return nil, errors.New("zones handler: nil report builder")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ZonesHandler{reports: reports, logger: logger}, nil
}

type zoneDTO struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Kind               string  `json:"kind"`
	Sensor             string  `json:"sensor,omitempty"`
	SubscriptionShare  float64 `json:"subscription_share"`
	ContributesToShare bool    `json:"contributes_to_shared_subscription"`
	Home               bool    `json:"home"`
	Invoiced           bool    `json:"invoiced"`
}

// ServeHTTP lists zones in display order with their allocation rules.
func (h *ZonesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg, err := h.reports.Settings()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	rules := make(map[string]billing.ZoneAllocationRule, len(cfg.Allocation.Rules))
	for _, rule := range cfg.Allocation.Rules {
		rules[rule.ZoneID] = rule
	}
	zones := make([]zoneDTO, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		rule := rules[z.ID]
		zones = append(zones, zoneDTO{
			ID:                 z.ID,
			Name:               z.Name,
			Kind:               string(z.Kind),
			Sensor:             z.Sensor,
			SubscriptionShare:  rule.SubscriptionShare,
			ContributesToShare: rule.ContributesToSharedSubscription,
			Home:               z.ID == cfg.Allocation.HomeZoneID,
			Invoiced:           z.ID == cfg.InvoiceZoneID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings_version": cfg.Version,
		"timezone":         cfg.Location.String(),
		"zones":            zones,
	})
}

// SettingsReloader swaps in a fresh settings snapshot.
type SettingsReloader interface {
	Reload(ctx context.Context) (*billing.Settings, error)
}

// SettingsReloadHandler serves POST /api/v1/settings/reload.
type SettingsReloadHandler struct {
	reloader SettingsReloader
	logger   *log.Logger
}

// NewSettingsReloadHandler constructs the handler.
func NewSettingsReloadHandler(reloader SettingsReloader, logger *log.Logger) (*SettingsReloadHandler, error) {
	if reloader == nil {
		return nil, errors.New("settings reload handler: nil reloader")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SettingsReloadHandler{reloader: reloader, logger: logger}, nil
}

// ServeHTTP reloads settings. A failed reload keeps the previous snapshot.
func (h *SettingsReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg, err := h.reloader.Reload(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "settings_version": cfg.Version})
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Fixed details for data source failures. The underlying error is only logged.
const (
	detailUpstream        = "data source unavailable"
	detailUpstreamTimeout = "data source timed out"
)

// writeError maps engine error kinds to status codes. Other errors come from
// data sources and are reported as upstream failures.
func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	kind := billing.KindOf(err)
	status := http.StatusBadGateway
	body := errorResponse{Error: string(kind), Detail: err.Error()}
	var be *billing.Error
	if errors.As(err, &be) && be.Detail != "" {
		body.Detail = be.Detail
	}
	switch kind {
	case billing.KindInvalidRange:
		status = http.StatusBadRequest
	case billing.KindInsufficientData:
		status = http.StatusNotFound
	case billing.KindMissingPrice:
		status = http.StatusUnprocessableEntity
	case billing.KindConfiguration:
		status = http.StatusInternalServerError
	default:
		body.Error = "upstream"
		body.Detail = detailUpstream
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
			body.Detail = detailUpstreamTimeout
		}
	}
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Printf("request failed: kind=%s err=%v", body.Error, err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intQuery(raw, key string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, billing.NewInvalidRange("%s is required", key)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, billing.NewInvalidRange("%s must be an integer", key)
	}
	return v, nil
}
