// Package config loads and validates engine configuration from file and
// environment. A config error is not survivable; callers exit with the
// dedicated config exit code.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marketvigil/vigil/internal/faults"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings. An empty host disables
// persistence; the engine runs with the in-memory ledger only.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// Enabled reports whether a database was configured.
func (c *DatabaseConfig) Enabled() bool { return c.Host != "" }

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig contains candle cache settings. Optional; an empty host
// disables the cache and fetches go straight to the exchange.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLSec   int    `mapstructure:"ttl_sec"`
}

func (c *RedisConfig) Enabled() bool { return c.Host != "" }

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TTL returns the cache TTL as a duration.
func (c *RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// NATSConfig contains bus settings. Optional.
type NATSConfig struct {
	URL                  string `mapstructure:"url"`
	HeartbeatIntervalSec int    `mapstructure:"heartbeat_interval_sec"`
}

func (c *NATSConfig) Enabled() bool { return c.URL != "" }

// HeartbeatInterval returns the bus heartbeat interval.
func (c *NATSConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// TelegramConfig contains signal delivery settings. Optional; without a
// token the engine logs signals instead of sending them.
type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	ChatID        int64  `mapstructure:"chat_id"`
	AllowedChatID int64  `mapstructure:"allowed_chat_id"`
	EnableBot     bool   `mapstructure:"enable_bot"`
}

func (c *TelegramConfig) Enabled() bool { return c.Token != "" }

// TradingConfig contains cycle and universe settings.
type TradingConfig struct {
	Symbols          []string `mapstructure:"symbols"`
	AnchorTimeframe  string   `mapstructure:"anchor_timeframe"`
	CycleIntervalSec int      `mapstructure:"cycle_interval_sec"`
	KlineLimit       int      `mapstructure:"kline_limit"`
	InitialCapital   float64  `mapstructure:"initial_capital"`
	MaxPositions     int      `mapstructure:"max_positions"`
	SnapshotEverySec int      `mapstructure:"snapshot_every_sec"`
	SignalLogPath    string   `mapstructure:"signal_log_path"`
}

// CycleInterval returns the cadence of the decision loop.
func (c *TradingConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalSec) * time.Second
}

// SnapshotEvery returns the checkpoint persistence cadence.
func (c *TradingConfig) SnapshotEvery() time.Duration {
	return time.Duration(c.SnapshotEverySec) * time.Second
}

// RiskConfig contains risk management settings.
type RiskConfig struct {
	RiskBudgetUSD   float64 `mapstructure:"risk_budget_usd"`
	BaseRiskPct     float64 `mapstructure:"base_risk_pct"`
	MinRiskPct      float64 `mapstructure:"min_risk_pct"`
	MaxLeverage     float64 `mapstructure:"max_leverage"`
	MaxDailyLossUSD float64 `mapstructure:"max_daily_loss_usd"`
}

// APIConfig contains the read-only status API settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// GetAPIAddr returns the API server address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vigil")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "vigil")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_sec", 30)

	v.SetDefault("nats.heartbeat_interval_sec", 30)

	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.anchor_timeframe", "1h")
	v.SetDefault("trading.cycle_interval_sec", 60)
	v.SetDefault("trading.kline_limit", 100)
	v.SetDefault("trading.initial_capital", 10000.0)
	v.SetDefault("trading.max_positions", 3)
	v.SetDefault("trading.snapshot_every_sec", 300)
	v.SetDefault("trading.signal_log_path", "signals.log")

	v.SetDefault("risk.risk_budget_usd", 1000.0)
	v.SetDefault("risk.base_risk_pct", 2.0)
	v.SetDefault("risk.min_risk_pct", 0.5)
	v.SetDefault("risk.max_leverage", 5.0)
	v.SetDefault("risk.max_daily_loss_usd", 200.0)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

var validTimeframes = map[string]bool{"5m": true, "15m": true, "30m": true, "1h": true}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Sprintf("app.environment %q is not one of development/staging/production", c.App.Environment))
	}
	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errs = append(errs, fmt.Sprintf("app.log_format %q must be json or console", c.App.LogFormat))
	}

	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, "trading.symbols must not be empty")
	}
	if !validTimeframes[c.Trading.AnchorTimeframe] {
		errs = append(errs, fmt.Sprintf("trading.anchor_timeframe %q is not a supported timeframe", c.Trading.AnchorTimeframe))
	}
	if c.Trading.CycleIntervalSec <= 0 {
		errs = append(errs, "trading.cycle_interval_sec must be positive")
	}
	if c.Trading.KlineLimit <= 0 {
		errs = append(errs, "trading.kline_limit must be positive")
	}
	if c.Trading.InitialCapital <= 0 {
		errs = append(errs, "trading.initial_capital must be positive")
	}
	if c.Trading.MaxPositions <= 0 {
		errs = append(errs, "trading.max_positions must be positive")
	}

	if c.Risk.RiskBudgetUSD <= 0 {
		errs = append(errs, "risk.risk_budget_usd must be positive")
	}
	if c.Risk.BaseRiskPct <= 0 || c.Risk.BaseRiskPct > 100 {
		errs = append(errs, "risk.base_risk_pct must be in (0, 100]")
	}
	if c.Risk.MinRiskPct < 0 || c.Risk.MinRiskPct > c.Risk.BaseRiskPct {
		errs = append(errs, "risk.min_risk_pct must be in [0, base_risk_pct]")
	}
	if c.Risk.MaxLeverage < 1 {
		errs = append(errs, "risk.max_leverage must be at least 1")
	}

	if c.Telegram.Enabled() && c.Telegram.ChatID == 0 {
		errs = append(errs, "telegram.chat_id is required when telegram.token is set")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be a valid port")
	}
	if c.Monitoring.EnableMetrics && (c.Monitoring.PrometheusPort <= 0 || c.Monitoring.PrometheusPort > 65535) {
		errs = append(errs, "monitoring.prometheus_port must be a valid port")
	}

	if c.App.Environment == "production" {
		if active := c.FaultToggles(); len(active) > 0 {
			errs = append(errs, fmt.Sprintf("fault injection enabled in production: %s", strings.Join(active, ", ")))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FaultToggles reports the active fault-injection switches so operators can
// see them at startup. Production refuses to run with any enabled.
func (c *Config) FaultToggles() []string {
	var active []string
	if faults.DecisionException() != nil {
		active = append(active, faults.EnvDecisionException)
	}
	if faults.StorageFailure() != nil {
		active = append(active, faults.EnvStorageFailure)
	}
	if faults.LoopStall() {
		active = append(active, faults.EnvLoopStall)
	}
	if faults.SyntheticTick() {
		active = append(active, faults.EnvSyntheticTick)
	}
	return active
}
