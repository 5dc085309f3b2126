package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "homeenergy_"

	resultSuccess = "success"
	resultError   = "error"

	cacheHit  = "hit"
	cacheMiss = "miss"
)

var (
	registerOnce sync.Once

	reportBuildTotal   *prometheus.CounterVec
	reportBuildLatency *prometheus.HistogramVec

	reportCacheTotal *prometheus.CounterVec

	estimatedHoursTotal *prometheus.CounterVec
	unpricedHoursTotal  prometheus.Counter

	sourceFetchLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	settingsReloadTotal *prometheus.CounterVec
)

// Init registers report metrics and, when db is set, source freshness gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		reportBuildTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_build_total",
				Help: "Total report builds by kind and result",
			},
			[]string{"kind", "result"},
		)
		reportBuildLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_build_latency_seconds",
				Help:    "Report build latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		reportCacheTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_cache_total",
				Help: "Monthly report cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		estimatedHoursTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "estimated_hours_total",
				Help: "Hours filled by series repair, by zone",
			},
			[]string{"zone"},
		)
		unpricedHoursTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "unpriced_hours_total",
				Help: "Report hours without a usable spot price",
			},
		)

		sourceFetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "source_fetch_latency_seconds",
				Help:    "Source fetch latency in seconds by series and result",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"series", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_export_total",
				Help: "Total invoice exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_export_latency_seconds",
				Help:    "Invoice export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		settingsReloadTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settings_reload_total",
				Help: "Settings reloads by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			reportBuildTotal,
			reportBuildLatency,
			reportCacheTotal,
			estimatedHoursTotal,
			unpricedHoursTotal,
			sourceFetchLatency,
			exportTotal,
			exportLatency,
			settingsReloadTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveReportBuild records build latency and result for a report kind.
func ObserveReportBuild(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportBuildTotal != nil {
		reportBuildTotal.WithLabelValues(kind, result).Inc()
	}
	if reportBuildLatency != nil {
		reportBuildLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncCacheLookup counts a monthly report cache hit or miss.
func IncCacheLookup(hit bool) {
	if reportCacheTotal == nil {
		return
	}
	if hit {
		reportCacheTotal.WithLabelValues(cacheHit).Inc()
		return
	}
	reportCacheTotal.WithLabelValues(cacheMiss).Inc()
}

// AddEstimatedHours counts repaired hours of a zone.
func AddEstimatedHours(zone string, hours int) {
	if hours <= 0 {
		return
	}
	if zone == "" {
		zone = "unknown"
	}
	if estimatedHoursTotal != nil {
		estimatedHoursTotal.WithLabelValues(zone).Add(float64(hours))
	}
}

// AddUnpricedHours counts hours without a spot price.
func AddUnpricedHours(hours int) {
	if hours <= 0 {
		return
	}
	if unpricedHoursTotal != nil {
		unpricedHoursTotal.Add(float64(hours))
	}
}

// ObserveSourceFetch records how long fetching one series took.
func ObserveSourceFetch(series, result string, duration time.Duration) {
	if series == "" {
		series = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if sourceFetchLatency != nil {
		sourceFetchLatency.WithLabelValues(series, result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncSettingsReload counts settings reloads.
func IncSettingsReload(result string) {
	if result == "" {
		result = resultSuccess
	}
	if settingsReloadTotal != nil {
		settingsReloadTotal.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	ReportMonthly = "monthly"
	ReportInvoice = "invoice"
)
