package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/faults"
)

func TestLoadDefaults(t *testing.T) {
	// A named file that does not exist is an error; defaults only apply to
	// the search-path flow.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "vigil", cfg.App.Name)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, "1h", cfg.Trading.AnchorTimeframe)
	assert.Equal(t, 2.0, cfg.Risk.BaseRiskPct)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  log_level: debug
trading:
  symbols: ["SOLUSDT"]
  cycle_interval_sec: 30
risk:
  risk_budget_usd: 2500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 30, cfg.Trading.CycleIntervalSec)
	assert.Equal(t, 2500.0, cfg.Risk.RiskBudgetUSD)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8081, cfg.API.Port)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Trading.Symbols = nil
	cfg.Risk.BaseRiskPct = 150
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading.symbols")
	assert.Contains(t, err.Error(), "base_risk_pct")
}

func TestValidateRejectsBadTimeframe(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Trading.AnchorTimeframe = "4h"
	require.Error(t, cfg.Validate())
}

func TestValidateTelegramRequiresChatID(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Telegram.Token = "123:abc"
	require.Error(t, cfg.Validate())

	cfg.Telegram.ChatID = 42
	require.NoError(t, cfg.Validate())
}

func TestProductionRefusesFaultInjection(t *testing.T) {
	faults.Override(faults.EnvLoopStall, true)
	defer faults.Clear()

	cfg, err := Load("")
	require.NoError(t, err)

	cfg.App.Environment = "production"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), faults.EnvLoopStall)
}

func TestDSNAndAddrs(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "pw", Database: "vigil", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=vigil sslmode=disable",
		cfg.GetDSN())

	r := RedisConfig{Host: "localhost", Port: 6379}
	assert.Equal(t, "localhost:6379", r.GetRedisAddr())

	a := APIConfig{Host: "0.0.0.0", Port: 8081}
	assert.Equal(t, "0.0.0.0:8081", a.GetAPIAddr())
}
