// Package config loads application settings from environment variables
// (populated from a .env file in main) and parses the SLA rule set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string

	// Vendor API.
	BaseURL      string
	ClientID     string
	ClientSecret string
	Org          string
	Tenant       string
	Scope        string
	SourceSystem string

	// Warehouse.
	DBDriver string
	DBDSN    string

	// Optional raw-page landing zone.
	ArchiveURI string
	ArchiveDB  string

	// Extraction tuning.
	PageSize       int
	HTTPTimeout    time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HistoryWindow  time.Duration
	StaleAfter     time.Duration

	SLA Rules
}

// Load reads settings from the environment. Only credentials and endpoints
// are mandatory; everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:       getenv("LOG_LEVEL", "info"),
		BaseURL:        os.Getenv("UIPATH_BASE_URL"),
		ClientID:       os.Getenv("UIPATH_CLIENT_ID"),
		ClientSecret:   os.Getenv("UIPATH_CLIENT_SECRET"),
		Org:            os.Getenv("UIPATH_ORG"),
		Tenant:         os.Getenv("UIPATH_TENANT"),
		Scope:          getenv("UIPATH_SCOPE", "OR.Queues.Read OR.Jobs.Read OR.Folders.Read"),
		SourceSystem:   getenv("SOURCE_SYSTEM", "uipath"),
		DBDriver:       getenv("DATABASE_DRIVER", "mysql"),
		DBDSN:          os.Getenv("DATABASE_DSN"),
		ArchiveURI:     os.Getenv("RAW_ARCHIVE_URI"),
		ArchiveDB:      getenv("RAW_ARCHIVE_DB", "orcsync_raw"),
		PageSize:       getenvInt("PAGE_SIZE", 100),
		HTTPTimeout:    getenvDuration("HTTP_TIMEOUT", 30*time.Second),
		RetryAttempts:  getenvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay: getenvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:  getenvDuration("RETRY_MAX_DELAY", 30*time.Second),
		HistoryWindow:  getenvDuration("HISTORY_WINDOW", 30*24*time.Hour),
		StaleAfter:     getenvDuration("CHECKPOINT_STALE_AFTER", 2*time.Hour),
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("UIPATH_BASE_URL environment variable not set")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("UIPATH_CLIENT_ID / UIPATH_CLIENT_SECRET environment variables not set")
	}
	if cfg.Org == "" || cfg.Tenant == "" {
		return nil, errors.New("UIPATH_ORG / UIPATH_TENANT environment variables not set")
	}
	if cfg.DBDSN == "" {
		return nil, errors.New("DATABASE_DSN environment variable not set")
	}
	switch cfg.DBDriver {
	case "mysql", "sqlserver", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DBDriver)
	}

	rules, err := ParseRules(getenv("SLA_DEFAULT", "24h"), os.Getenv("SLA_OVERRIDES"))
	if err != nil {
		return nil, err
	}
	cfg.SLA = rules

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
