package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDocumentedDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./data/engine.db", cfg.DatabasePath)
	assert.Equal(t, 10000.0, cfg.InitialCash)
	assert.Equal(t, 10.0, cfg.FeeBps)
	assert.Equal(t, 5.0, cfg.SlippageBps)
	assert.Equal(t, 5.0, cfg.MaxTradeNotionalPct)
	assert.Equal(t, 25.0, cfg.MaxSymbolExposurePct)
	assert.Equal(t, 10.0, cfg.SoftDrawdownPct)
	assert.Equal(t, 20.0, cfg.HardDrawdownPct)
	assert.False(t, cfg.LLMEnabled)
	assert.Equal(t, 30, cfg.ShutdownGraceS)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "engine-backups", cfg.BackupS3Prefix)
	assert.Equal(t, 0, cfg.BackupIntervalH)
	assert.Equal(t, 14, cfg.BackupRetainDays)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("INITIAL_CASH", "50000")
	t.Setenv("LLM_ENABLED", "true")
	t.Setenv("EXCHANGE_BASE_URL", "https://example.invalid/api")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 50000.0, cfg.InitialCash)
	assert.True(t, cfg.LLMEnabled)
	assert.Equal(t, "https://example.invalid/api", cfg.ExchangeBaseURL)
}

func TestLoad_UnparseableNumericEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestValidate_EmptyDatabasePathIsRejected(t *testing.T) {
	cfg := &Config{DatabasePath: "", ShutdownGraceS: 30}
	assert.Error(t, cfg.Validate())
}

func TestValidate_NegativeInitialCashIsRejected(t *testing.T) {
	cfg := &Config{DatabasePath: "x.db", InitialCash: -1, ShutdownGraceS: 30}
	assert.Error(t, cfg.Validate())
}

func TestValidate_NonPositiveShutdownGraceIsRejected(t *testing.T) {
	cfg := &Config{DatabasePath: "x.db", InitialCash: 0, ShutdownGraceS: 0}
	assert.Error(t, cfg.Validate())
}

func TestValidate_WellFormedConfigPasses(t *testing.T) {
	cfg := &Config{DatabasePath: "x.db", InitialCash: 0, ShutdownGraceS: 30}
	assert.NoError(t, cfg.Validate())
}
