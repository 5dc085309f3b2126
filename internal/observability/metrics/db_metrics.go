package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "spot_price_age_seconds",
			Help: "Seconds since the newest stored spot price hour",
		},
		func() float64 {
			return queryFloat(db, logger, "SELECT COALESCE(EXTRACT(EPOCH FROM (now() - MAX(hour_start))), 0) FROM spot_prices")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "consumption_age_seconds",
			Help: "Seconds since the newest stored consumption hour",
		},
		func() float64 {
			return queryFloat(db, logger, "SELECT COALESCE(EXTRACT(EPOCH FROM (now() - MAX(hour_start))), 0) FROM hourly_consumption")
		},
	))
}

func queryFloat(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var value float64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if value < 0 {
		return 0
	}
	return value
}
