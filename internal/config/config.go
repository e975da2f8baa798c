package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gastos/internal/analyzer"
)

var validSources = []string{"memory", "sqlite", "camara"}

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	WritesPerMinute    int
	TrustedProxies     []string

	// Record source
	DataSource    string
	DataDirectory string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string
	AMQPAlertsQueue string

	// Câmara open data API
	CamaraAPIURL      string
	CamaraConcurrency int
	CamaraTimeout     time.Duration

	// Analysis
	CacheTTL          time.Duration
	CacheSize         int
	AnalysisChunkSize int
	Analyzer          analyzer.Config

	// Worker
	WorkerExportAll      bool
	WorkerTopLegislators int

	// Report export (Google Sheets, service account)
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 50<<20)),
		WritesPerMinute:    getEnvInt("RATE_LIMIT_WRITES_PER_MINUTE", 30),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES", nil),

		DataSource:    getEnv("DATA_SOURCE", "sqlite"),
		DataDirectory: getEnv("DATA_DIRECTORY", "data"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/gastos.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "gastos"),
		AMQPQueue:       getEnv("AMQP_QUEUE", "analysis_requests"),
		AMQPAlertsQueue: getEnv("AMQP_ALERTS_QUEUE", "alert_summaries"),

		CamaraAPIURL:      getEnv("CAMARA_API_URL", "https://dadosabertos.camara.leg.br/api/v2"),
		CamaraConcurrency: getEnvInt("CAMARA_CONCURRENCY", 4),
		CamaraTimeout:     getEnvDuration("CAMARA_TIMEOUT", 30*time.Second),

		CacheTTL:          getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize:         getEnvInt("CACHE_SIZE", 50),
		AnalysisChunkSize: getEnvInt("ANALYSIS_CHUNK_SIZE", 5000),
		Analyzer:          loadAnalyzer(),

		WorkerExportAll:      getEnv("WORKER_EXPORT_ALL", "false") == "true",
		WorkerTopLegislators: getEnvInt("WORKER_TOP_LEGISLATORS", 10),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// loadAnalyzer overlays ANALYZER_* variables on the default thresholds.
func loadAnalyzer() analyzer.Config {
	a := analyzer.DefaultConfig()
	a.BlocSentinels = getEnvList("BLOC_SENTINELS", a.BlocSentinels)
	a.FuelMarker = getEnv("ANALYZER_FUEL_MARKER", a.FuelMarker)

	a.FuelSuspiciousPurchase = getEnvFloat("ANALYZER_FUEL_SUSPICIOUS_PURCHASE", a.FuelSuspiciousPurchase)
	a.FuelHighSeverityPurchase = getEnvFloat("ANALYZER_FUEL_HIGH_SEVERITY_PURCHASE", a.FuelHighSeverityPurchase)
	a.FuelReferencePrice = getEnvFloat("ANALYZER_FUEL_REFERENCE_PRICE", a.FuelReferencePrice)
	a.FuelAverageCeiling = getEnvFloat("ANALYZER_FUEL_AVERAGE_CEILING", a.FuelAverageCeiling)
	a.MonthlyLimit = getEnvFloat("ANALYZER_MONTHLY_LIMIT", a.MonthlyLimit)
	a.MinSupplierDiversity = getEnvInt("ANALYZER_MIN_SUPPLIER_DIVERSITY", a.MinSupplierDiversity)
	a.SupplierDiversityMinTotal = getEnvFloat("ANALYZER_SUPPLIER_DIVERSITY_MIN_TOTAL", a.SupplierDiversityMinTotal)
	a.SupplierHighAverage = getEnvFloat("ANALYZER_SUPPLIER_HIGH_AVERAGE", a.SupplierHighAverage)
	a.DailyTransactionThreshold = getEnvInt("ANALYZER_DAILY_TRANSACTION_THRESHOLD", a.DailyTransactionThreshold)
	a.DailyHighSeverityCount = getEnvInt("ANALYZER_DAILY_HIGH_SEVERITY_COUNT", a.DailyHighSeverityCount)
	a.RepeatedAmountMinValue = getEnvFloat("ANALYZER_REPEATED_AMOUNT_MIN_VALUE", a.RepeatedAmountMinValue)
	a.RepeatedAmountMinOccurrences = getEnvInt("ANALYZER_REPEATED_AMOUNT_MIN_OCCURRENCES", a.RepeatedAmountMinOccurrences)
	a.RepeatedAmountMaxSuppliers = getEnvInt("ANALYZER_REPEATED_AMOUNT_MAX_SUPPLIERS", a.RepeatedAmountMaxSuppliers)

	a.HighWeight = getEnvInt("ANALYZER_HIGH_WEIGHT", a.HighWeight)
	a.MediumWeight = getEnvInt("ANALYZER_MEDIUM_WEIGHT", a.MediumWeight)
	a.LowWeight = getEnvInt("ANALYZER_LOW_WEIGHT", a.LowWeight)
	a.OverpricingBonus = getEnvInt("ANALYZER_OVERPRICING_BONUS", a.OverpricingBonus)
	a.LargeLimitBonus = getEnvInt("ANALYZER_LARGE_LIMIT_BONUS", a.LargeLimitBonus)
	a.LargeLimitMinimum = getEnvFloat("ANALYZER_LARGE_LIMIT_MINIMUM", a.LargeLimitMinimum)
	a.SupplierFewLegislatorsPoints = getEnvInt("ANALYZER_SUPPLIER_FEW_LEGISLATORS_POINTS", a.SupplierFewLegislatorsPoints)
	a.SupplierHighAveragePoints = getEnvInt("ANALYZER_SUPPLIER_HIGH_AVERAGE_POINTS", a.SupplierHighAveragePoints)
	a.SupplierLargeVolumePoints = getEnvInt("ANALYZER_SUPPLIER_LARGE_VOLUME_POINTS", a.SupplierLargeVolumePoints)
	a.SupplierLargeVolumeTotal = getEnvFloat("ANALYZER_SUPPLIER_LARGE_VOLUME_TOTAL", a.SupplierLargeVolumeTotal)
	a.SupplierLargeVolumeMaxLegislators = getEnvInt("ANALYZER_SUPPLIER_LARGE_VOLUME_MAX_LEGISLATORS", a.SupplierLargeVolumeMaxLegislators)
	return a
}

// AnalyzerConfig returns the thresholds and weights for analyzer.New.
func (c *Config) AnalyzerConfig() analyzer.Config {
	return c.Analyzer
}

// ExportEnabled reports whether the Google Sheets exporter is configured.
func (c *Config) ExportEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validSources, c.DataSource) {
		errors = append(errors, fmt.Sprintf("invalid data source '%s': must be one of %v", c.DataSource, validSources))
	}

	if c.DataSource == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite source")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataSource == "camara" {
		if u, err := url.Parse(c.CamaraAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid Câmara API URL '%s': must be an http(s) URL", c.CamaraAPIURL))
		}
		if c.CamaraConcurrency < 1 || c.CamaraConcurrency > 32 {
			errors = append(errors, fmt.Sprintf("invalid Câmara concurrency %d: must be between 1 and 32", c.CamaraConcurrency))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPAlertsQueue == "" {
			errors = append(errors, "AMQP alerts queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ExportEnabled() {
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for report export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}
	if c.AnalysisChunkSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid analysis chunk size %d: must not be negative", c.AnalysisChunkSize))
	}
	if c.WritesPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid write rate limit %d: must be at least 1 per minute", c.WritesPerMinute))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}
	if c.WorkerTopLegislators < 1 {
		errors = append(errors, fmt.Sprintf("invalid worker top legislators %d: must be at least 1", c.WorkerTopLegislators))
	}
	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be at least 1024 bytes", c.MaxUploadBytes))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if err := c.Analyzer.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
