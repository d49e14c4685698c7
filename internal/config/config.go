package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Uploads
	UploadDir        string
	UploadExtensions []string
	SheetName        string
	MaxUploadMB      int

	// Parse cache
	CacheSize int
	CacheTTL  time.Duration

	// Catalog (empty path disables history)
	CatalogDBPath string

	// AMQP (empty URL means analysis runs inline)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Worker
	WorkerBatchSize int

	// Google Sheets import (empty ID disables import)
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleImportName         string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		UploadDir:        getEnv("UPLOAD_DIR", "uploaded_data"),
		UploadExtensions: getEnvList("UPLOAD_EXTENSIONS", []string{".xlsm", ".xlsx"}),
		SheetName:        getEnv("SHEET_NAME", "Sheet1"),
		MaxUploadMB:      getEnvInt("MAX_UPLOAD_MB", 50),

		CacheSize: getEnvInt("CACHE_SIZE", 16),
		CacheTTL:  getEnvDuration("CACHE_TTL", 10*time.Minute),

		CatalogDBPath: getEnv("CATALOG_DB_PATH", "./data/churnboard.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "churnboard"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "analyze_uploads"),

		WorkerBatchSize: getEnvInt("WORKER_BATCH_SIZE", 50),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Sheet1"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleImportName:         getEnv("GOOGLE_IMPORT_NAME", "google_sheet.xlsx"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// CatalogEnabled reports whether upload history is kept.
func (c *Config) CatalogEnabled() bool { return c.CatalogDBPath != "" }

// AMQPEnabled reports whether analysis is handed to a worker.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

// GoogleEnabled reports whether Google Sheets import is configured.
func (c *Config) GoogleEnabled() bool { return c.GoogleSpreadsheetID != "" }

// MaxUploadBytes is the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be 0 (disabled) or positive", c.RateLimitPerMinute))
	}

	if strings.TrimSpace(c.UploadDir) == "" {
		errors = append(errors, "upload directory cannot be empty")
	}
	if len(c.UploadExtensions) == 0 {
		errors = append(errors, "at least one upload extension is required")
	}
	for _, ext := range c.UploadExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\`) {
			errors = append(errors, fmt.Sprintf("invalid upload extension '%s': must look like .xlsx", ext))
		}
	}
	if c.MaxUploadMB < 1 || c.MaxUploadMB > 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %dMB: must be between 1 and 1024", c.MaxUploadMB))
	}

	if c.CacheSize < 1 || c.CacheSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be between 1 and 1000", c.CacheSize))
	}
	if c.CacheTTL < 0 || c.CacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be between 0 and 24 hours", c.CacheTTL))
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
		if !c.CatalogEnabled() {
			errors = append(errors, "CATALOG_DB_PATH is required when AMQP URL is provided")
		}
	}

	if c.WorkerBatchSize < 1 || c.WorkerBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid worker batch size %d: must be between 1 and 1000", c.WorkerBatchSize))
	}

	if c.GoogleEnabled() {
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS is required for Google Sheets import")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
		if c.GoogleImportName == "" || !slices.Contains(c.UploadExtensions, strings.ToLower(extOf(c.GoogleImportName))) {
			errors = append(errors, fmt.Sprintf("invalid Google import name '%s': its extension must be an allowed upload extension", c.GoogleImportName))
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}
	validFormats := []string{"text", "json"}
	if !slices.Contains(validFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, lowercasing and trimming items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
