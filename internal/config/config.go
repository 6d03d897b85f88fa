// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is everything the engine reads from the environment, loaded once
// in main.
type Config struct {
	// Ledger service.
	LedgerBaseURL     string
	LedgerAPIKey      string
	PlatformAccountID string

	// Storage.
	DataDir    string
	MainDBPath string

	// HTTP surface.
	ListenAddr string

	// Fan-out.
	BatchSize  int
	MaxBatches int
	MinWorkers int
	MaxWorkers int

	// Tenant connection cache.
	IdleTimeout time.Duration

	// Ledger retry budget.
	MaxRetryAttempts int

	// Daily lock cutoff.
	Timezone     string
	CutoffHour   int
	CutoffMinute int
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LedgerBaseURL:     getEnv("LEDGER_BASE_URL", "https://api.xendit.co"),
		LedgerAPIKey:      os.Getenv("LEDGER_API_KEY"),
		PlatformAccountID: os.Getenv("PLATFORM_ACCOUNT_ID"),
		DataDir:           getEnv("DATA_DIR", "./data/tenants"),
		MainDBPath:        getEnv("MAIN_DB_PATH", "./data/main.db"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		Timezone:          getEnv("TZ_LOCATION", "Asia/Jakarta"),
	}

	var err error
	if cfg.BatchSize, err = getEnvInt("BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.MaxBatches, err = getEnvInt("MAX_BATCHES", 10); err != nil {
		return nil, err
	}
	if cfg.MinWorkers, err = getEnvInt("MIN_WORKERS", 1); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers, err = getEnvInt("MAX_WORKERS", 20); err != nil {
		return nil, err
	}
	if cfg.MaxRetryAttempts, err = getEnvInt("LEDGER_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.CutoffHour, err = getEnvInt("CUTOFF_HOUR", 23); err != nil {
		return nil, err
	}
	if cfg.CutoffMinute, err = getEnvInt("CUTOFF_MINUTE", 30); err != nil {
		return nil, err
	}

	idleSecs, err := getEnvInt("TENANT_IDLE_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.IdleTimeout = time.Duration(idleSecs) * time.Second

	if cfg.LedgerAPIKey == "" {
		return nil, fmt.Errorf("LEDGER_API_KEY is required")
	}
	if cfg.PlatformAccountID == "" {
		return nil, fmt.Errorf("PLATFORM_ACCOUNT_ID is required")
	}
	return cfg, nil
}
