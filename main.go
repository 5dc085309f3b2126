package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"home-analytics/internal/auth"
	billingapp "home-analytics/internal/billing/application"
	"home-analytics/internal/billing/infrastructure/influx"
	billingrepo "home-analytics/internal/billing/infrastructure/postgres"
	"home-analytics/internal/billing/infrastructure/settings"
	billinghttp "home-analytics/internal/billing/interfaces"
	"home-analytics/internal/observability/metrics"
)

const (
	sourcePostgres = "postgres"
	sourceInflux   = "influx"
)

// sources bundles the ports served by one backend.
type sources struct {
	readings billingapp.ReadingSource
	building billingapp.BuildingMeterSource
	prices   billingapp.PriceSource
	meters   billingapp.MeterSource
}

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	ctx := context.Background()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}
	metrics.Init(db, logger)

	var overlays []settings.Overlay
	if db != nil {
		overlays = append(overlays, billingrepo.NewSettingsRepository(db))
	}
	settingsStore, err := settings.NewStore(ctx, settings.FileLoader(cfg.SettingsPath, overlays...), logger)
	if err != nil {
		logger.Fatalf("settings error: %v", err)
	}

	src, err := buildSources(cfg, db, settingsStore, logger)
	if err != nil {
		logger.Fatalf("data source error: %v", err)
	}

	reportService, err := billingapp.NewReportService(src.readings, src.prices, settingsStore,
		billingapp.WithBuildingMeter(src.building),
		billingapp.WithMeterSource(src.meters),
		billingapp.WithCache(billingapp.NewMonthCache(cfg.CurrentMonthTTL, billingapp.SystemClock{})),
		billingapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("report service error: %v", err)
	}

	monthlyHandler, err := billinghttp.NewMonthlyReportHandler(reportService, logger)
	if err != nil {
		logger.Fatalf("monthly handler error: %v", err)
	}
	invoiceHandlers := make(map[string]http.Handler, 3)
	for _, format := range []string{billinghttp.FormatJSON, billinghttp.FormatCSV, billinghttp.FormatXLSX} {
		h, err := billinghttp.NewInvoiceHandler(reportService, format, logger)
		if err != nil {
			logger.Fatalf("invoice handler error: %v", err)
		}
		invoiceHandlers[format] = h
	}
	cacheHandler, err := billinghttp.NewCacheClearHandler(reportService)
	if err != nil {
		logger.Fatalf("cache handler error: %v", err)
	}
	zonesHandler, err := billinghttp.NewZonesHandler(reportService, logger)
	if err != nil {
		logger.Fatalf("zones handler error: %v", err)
	}
	reloadHandler, err := billinghttp.NewSettingsReloadHandler(settingsStore, logger)
	if err != nil {
		logger.Fatalf("settings reload handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/reports/monthly", monthlyHandler)
	mux.Handle("/api/v1/reports/invoice", invoiceHandlers[billinghttp.FormatJSON])
	mux.Handle("/api/v1/reports/invoice.csv", invoiceHandlers[billinghttp.FormatCSV])
	mux.Handle("/api/v1/reports/invoice.xlsx", invoiceHandlers[billinghttp.FormatXLSX])
	mux.Handle("/api/v1/reports/cache/clear", cacheHandler)
	mux.Handle("/api/v1/zones", zonesHandler)
	mux.Handle("/api/v1/settings/reload", reloadHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy("/healthz", "/metrics")
		handler = auth.NewMiddleware([]byte(cfg.JWTSecret), policy, logger).Wrap(mux)
	} else {
		logger.Printf("AUTH_JWT_SECRET not set, serving without authentication")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Printf("http listening on %s source=%s settings=%s", cfg.HTTPAddr, cfg.DataSource, settingsStore.Current().Version)
	logger.Fatal(server.ListenAndServe())
}

func buildSources(cfg config, db *sql.DB, settingsStore *settings.Store, logger *log.Logger) (sources, error) {
	switch cfg.DataSource {
	case sourceInflux:
		client, err := influx.NewClient(influx.Config{
			URL:      cfg.InfluxURL,
			Bucket:   cfg.InfluxBucket,
			Username: cfg.InfluxUsername,
			Password: cfg.InfluxPassword,
			Token:    cfg.InfluxToken,
			Timeout:  cfg.InfluxTimeout,
		})
		if err != nil {
			return sources{}, err
		}
		src, err := influx.NewSource(client, cfg.PriceSensor, settingsStore.ResolveBaseTariff, influx.WithLogger(logger))
		if err != nil {
			return sources{}, err
		}
		return sources{readings: src, building: src, prices: src, meters: src}, nil
	default:
		if db == nil {
			return sources{}, errors.New("DATABASE_URL is required for the postgres source")
		}
		repo := billingrepo.NewSeriesRepository(db)
		return sources{readings: repo, building: repo, prices: repo, meters: repo}, nil
	}
}

type config struct {
	DatabaseURL     string
	HTTPAddr        string
	SettingsPath    string
	DataSource      string
	CurrentMonthTTL time.Duration
	JWTSecret       string
	InfluxURL       string
	InfluxBucket    string
	InfluxUsername  string
	InfluxPassword  string
	InfluxToken     string
	InfluxTimeout   time.Duration
	PriceSensor     string
}

func loadConfig() config {
	return config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		SettingsPath:    getenvDefault("SETTINGS_PATH", "configs/settings.yaml"),
		DataSource:      strings.ToLower(getenvDefault("DATA_SOURCE", sourcePostgres)),
		CurrentMonthTTL: getenvDuration("REPORT_CACHE_TTL", billingapp.DefaultCurrentMonthTTL),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		InfluxURL:       getenvDefault("INFLUX_URL", ""),
		InfluxBucket:    getenvDefault("INFLUX_BUCKET", ""),
		InfluxUsername:  getenvDefault("INFLUX_USERNAME", ""),
		InfluxPassword:  getenvDefault("INFLUX_PASSWORD", ""),
		InfluxToken:     getenvDefault("INFLUX_TOKEN", ""),
		InfluxTimeout:   getenvDuration("INFLUX_TIMEOUT", 10*time.Second),
		PriceSensor:     getenvDefault("PRICE_SENSOR", "sensor.electricity_price"),
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
