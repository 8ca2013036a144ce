// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port         int
	DevMode      bool
	LogLevel     string
	DatabasePath string

	// API access
	APIKey string // required for write/admin endpoints unless DevMode

	// Analytics
	RiskFreeRate float64 // annual, decimal

	// Collection
	DefaultCollectDays      int
	ScheduleIntervalMinutes int // >0 switches the daily cron to a polling @every trigger (dev)

	// Cache
	CacheMaxSize int

	// Upstream client
	UpstreamRateLimit float64 // requests per second
	UpstreamTimeout   int     // seconds

	// Backup (S3-compatible; disabled when bucket is empty)
	BackupBucket    string
	BackupEndpoint  string
	BackupAccessKey string
	BackupSecretKey string
	BackupRegion    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8000),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/market.db"),

		APIKey: getEnv("API_KEY", ""),

		RiskFreeRate: getEnvAsFloat("RISK_FREE_RATE", 0.0),

		DefaultCollectDays:      getEnvAsInt("DEFAULT_COLLECT_DAYS", 30),
		ScheduleIntervalMinutes: getEnvAsInt("SCHEDULE_INTERVAL_MINUTES", 0),

		CacheMaxSize: getEnvAsInt("CACHE_MAX_SIZE", 1000),

		UpstreamRateLimit: getEnvAsFloat("UPSTREAM_RATE_LIMIT", 5),
		UpstreamTimeout:   getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 30),

		BackupBucket:    getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:  getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
		BackupSecretKey: getEnv("BACKUP_SECRET_KEY", ""),
		BackupRegion:    getEnv("BACKUP_REGION", "auto"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if !c.DevMode && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required outside dev mode")
	}
	if c.UpstreamRateLimit <= 0 {
		return fmt.Errorf("UPSTREAM_RATE_LIMIT must be positive")
	}
	return nil
}

// BackupEnabled reports whether S3 snapshot backups are configured.
func (c *Config) BackupEnabled() bool {
	return c.BackupBucket != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
