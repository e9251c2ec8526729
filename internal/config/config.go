package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gastos/internal/core"
)

type Config struct {
	// HTTP Server
	Port string `yaml:"port"`

	// Storage
	DataBackend  string `yaml:"data_backend"`
	SQLiteDBPath string `yaml:"sqlite_db_path"`
	DataDir      string `yaml:"data_dir"`
	PhotoDir     string `yaml:"photo_dir"`
	CacheDir     string `yaml:"cache_dir"`
	ContentRoot  string `yaml:"content_root"`

	// AMQP
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`

	// Google Sheets mirror
	GoogleSpreadsheetID      string `yaml:"google_spreadsheet_id"`
	GoogleSheetName          string `yaml:"google_sheet_name"`
	GoogleServiceAccountJSON string `yaml:"-"`
	GoogleServiceAccountFile string `yaml:"google_service_account_file"`

	// Alerts, decimal strings
	MonthlyAmberThreshold string `yaml:"monthly_amber_threshold"`
	MonthlyRedThreshold   string `yaml:"monthly_red_threshold"`

	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`

	// Worker
	MirrorDebounce time.Duration `yaml:"mirror_debounce"`
}

func defaults() *Config {
	return &Config{
		Port:                  "8081",
		DataBackend:           "sqlite",
		SQLiteDBPath:          "./data/gastos.db",
		DataDir:               "./data",
		PhotoDir:              "./data/photos",
		CacheDir:              filepath.Join(os.TempDir(), "gastos"),
		AMQPExchange:          "gastos",
		AMQPQueue:             "backup_events",
		GoogleSheetName:       "Gastos",
		MonthlyAmberThreshold: "500",
		MonthlyRedThreshold:   "1000",
		Timezone:              "Local",
		LogLevel:              "info",
		MirrorDebounce:        2 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// GASTOS_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("GASTOS_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DataBackend = getEnv("DATA_BACKEND", cfg.DataBackend)
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.PhotoDir = getEnv("PHOTO_DIR", cfg.PhotoDir)
	cfg.CacheDir = getEnv("CACHE_DIR", cfg.CacheDir)
	cfg.ContentRoot = getEnv("CONTENT_ROOT", cfg.ContentRoot)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", cfg.GoogleSpreadsheetID)
	cfg.GoogleSheetName = getEnv("GOOGLE_SHEET_NAME", cfg.GoogleSheetName)
	cfg.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", cfg.GoogleServiceAccountJSON)
	cfg.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", cfg.GoogleServiceAccountFile)

	cfg.MonthlyAmberThreshold = getEnv("MONTHLY_AMBER_THRESHOLD", cfg.MonthlyAmberThreshold)
	cfg.MonthlyRedThreshold = getEnv("MONTHLY_RED_THRESHOLD", cfg.MonthlyRedThreshold)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MirrorDebounce = getEnvDuration("MIRROR_DEBOUNCE", cfg.MirrorDebounce)

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Thresholds parses the monthly alert thresholds.
func (c *Config) Thresholds() (core.Thresholds, error) {
	amber, err := core.ParseAmount(c.MonthlyAmberThreshold)
	if err != nil {
		return core.Thresholds{}, fmt.Errorf("amber threshold %q: %w", c.MonthlyAmberThreshold, err)
	}
	red, err := core.ParseAmount(c.MonthlyRedThreshold)
	if err != nil {
		return core.Thresholds{}, fmt.Errorf("red threshold %q: %w", c.MonthlyRedThreshold, err)
	}
	t := core.Thresholds{Amber: amber, Red: red}
	return t, t.Validate()
}

// Location resolves Timezone; "Local" and empty mean the process zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// MirrorEnabled reports whether the sheet mirror has what it needs.
func (c *Config) MirrorEnabled() bool {
	return c.GoogleSpreadsheetID != "" && (c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "")
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}
	if c.PhotoDir == "" {
		errors = append(errors, "photo directory cannot be empty")
	}
	if c.CacheDir == "" {
		errors = append(errors, "cache directory cannot be empty")
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
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for the sheet mirror")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if _, err := c.Thresholds(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid alert thresholds: %v", err))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}

	if c.MirrorDebounce < 0 {
		errors = append(errors, fmt.Sprintf("invalid mirror debounce %v: must not be negative", c.MirrorDebounce))
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
