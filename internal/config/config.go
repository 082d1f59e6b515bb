// Package config provides configuration management for the scan engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantlab/platformscan/internal/domain"
)

// Config holds application configuration. Constructed once at startup and
// treated as immutable.
type Config struct {
	DataDir          string // Base directory for the sqlite databases
	LogLevel         string
	ProviderBaseURL  string
	ProviderUser     string
	ProviderPassword string
	CronSpec         string // Empty means one-shot mode
	Scan             domain.ScanConfig
}

// Load reads configuration from environment variables, with a .env file
// honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("SCAN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	scan := domain.DefaultScanConfig()
	scan.MaxWorkers = getEnvAsInt("SCAN_MAX_WORKERS", scan.MaxWorkers)
	scan.QueryTimeout = time.Duration(getEnvAsInt("SCAN_QUERY_TIMEOUT_SECONDS", int(scan.QueryTimeout/time.Second))) * time.Second
	scan.RetryAttempts = getEnvAsInt("SCAN_RETRY_ATTEMPTS", scan.RetryAttempts)
	scan.RetryDelay = time.Duration(getEnvAsInt("SCAN_RETRY_DELAY_SECONDS", int(scan.RetryDelay/time.Second))) * time.Second
	scan.TaskTimeout = time.Duration(getEnvAsInt("SCAN_TASK_TIMEOUT_SECONDS", int(scan.TaskTimeout/time.Second))) * time.Second
	scan.ScanDeadline = time.Duration(getEnvAsInt("SCAN_DEADLINE_MINUTES", int(scan.ScanDeadline/time.Minute))) * time.Minute
	scan.LookbackDays = getEnvAsInt("SCAN_LOOKBACK_DAYS", scan.LookbackDays)
	scan.CacheEnabled = getEnvAsBool("SCAN_CACHE_ENABLED", scan.CacheEnabled)

	cfg := &Config{
		DataDir:          absDataDir,
		LogLevel:         getEnv("SCAN_LOG_LEVEL", "info"),
		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", "http://localhost:8765"),
		ProviderUser:     getEnv("PROVIDER_USER", "anonymous"),
		ProviderPassword: getEnv("PROVIDER_PASSWORD", "123456"),
		CronSpec:         getEnv("SCAN_CRON", ""),
		Scan:             scan,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Scan.MaxWorkers <= 0 {
		return fmt.Errorf("SCAN_MAX_WORKERS must be positive, got %d", c.Scan.MaxWorkers)
	}
	if c.Scan.LookbackDays <= 0 {
		return fmt.Errorf("SCAN_LOOKBACK_DAYS must be positive, got %d", c.Scan.LookbackDays)
	}
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL must not be empty")
	}
	return nil
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
