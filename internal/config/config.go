// Package config loads the engine's runtime configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every recognized configuration option.
type Config struct {
	// Server / admin surface
	Port     int
	DevMode  bool
	LogLevel string

	// Persistence
	DatabasePath string

	// Paper trading account
	InitialCash          float64
	FeeBps               float64
	SlippageBps          float64
	MaxTradeNotionalPct  float64
	MaxSymbolExposurePct float64
	SoftDrawdownPct      float64
	HardDrawdownPct      float64

	// Evaluators
	LLMEnabled  bool
	LLMTimeoutS int
	LLMEndpoint string

	// Cache / upstream — each base URL is opaque from the engine's point
	// of view; an empty value disables that source (cache reads return
	// Absent, never an error the evaluator has to special-case).
	UpstreamTimeoutS        int
	ExchangeBaseURL         string
	MacroFREDBaseURL        string
	FearGreedBaseURL        string
	StablecoinSupplyBaseURL string
	ETFFlowsBaseURL         string
	OnchainBaseURL          string
	MinersBaseURL           string
	MNAVBaseURL             string

	// Shutdown
	ShutdownGraceS int

	// Notifications
	WebhookURL string

	// Metrics
	MetricsAddr string

	// Offsite backup (optional; BackupIntervalH == 0 disables)
	BackupS3Bucket   string
	BackupS3Prefix   string
	BackupIntervalH  int
	BackupRetainDays int
}

// Load reads configuration from environment variables, applying the
// documented defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabasePath: getEnv("DATABASE_PATH", "./data/engine.db"),

		InitialCash:          getEnvAsFloat("INITIAL_CASH", 10000),
		FeeBps:               getEnvAsFloat("FEE_BPS", 10),
		SlippageBps:          getEnvAsFloat("SLIPPAGE_BPS", 5),
		MaxTradeNotionalPct:  getEnvAsFloat("MAX_TRADE_NOTIONAL_PCT", 5),
		MaxSymbolExposurePct: getEnvAsFloat("MAX_SYMBOL_EXPOSURE_PCT", 25),
		SoftDrawdownPct:      getEnvAsFloat("SOFT_DRAWDOWN_PCT", 10),
		HardDrawdownPct:      getEnvAsFloat("HARD_DRAWDOWN_PCT", 20),

		LLMEnabled:  getEnvAsBool("LLM_ENABLED", false),
		LLMTimeoutS: getEnvAsInt("LLM_TIMEOUT_S", 15),
		LLMEndpoint: getEnv("LLM_ENDPOINT", ""),

		UpstreamTimeoutS:        getEnvAsInt("UPSTREAM_TIMEOUT_S", 10),
		ExchangeBaseURL:         getEnv("EXCHANGE_BASE_URL", ""),
		MacroFREDBaseURL:        getEnv("MACRO_FRED_BASE_URL", ""),
		FearGreedBaseURL:        getEnv("FEAR_GREED_BASE_URL", ""),
		StablecoinSupplyBaseURL: getEnv("STABLECOIN_SUPPLY_BASE_URL", ""),
		ETFFlowsBaseURL:         getEnv("ETF_FLOWS_BASE_URL", ""),
		OnchainBaseURL:          getEnv("ONCHAIN_BASE_URL", ""),
		MinersBaseURL:           getEnv("MINERS_BASE_URL", ""),
		MNAVBaseURL:             getEnv("MNAV_BASE_URL", ""),

		ShutdownGraceS: getEnvAsInt("SHUTDOWN_GRACE_S", 30),

		WebhookURL: getEnv("WEBHOOK_URL", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		BackupS3Bucket:   getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3Prefix:   getEnv("BACKUP_S3_PREFIX", "engine-backups"),
		BackupIntervalH:  getEnvAsInt("BACKUP_INTERVAL_H", 0),
		BackupRetainDays: getEnvAsInt("BACKUP_RETAIN_DAYS", 14),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants on the loaded configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.InitialCash < 0 {
		return fmt.Errorf("INITIAL_CASH must be non-negative")
	}
	if c.ShutdownGraceS <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE_S must be positive")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
