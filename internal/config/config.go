package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Exchange    ExchangeConfig `mapstructure:"exchange"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Trading     TradingConfig  `mapstructure:"trading"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ExchangeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key" json:"-" yaml:"-"`
	Timeout int    `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TradingConfig carries every knob the reconciliation pipeline recognizes.
type TradingConfig struct {
	CommissionRate           float64 `mapstructure:"commission_rate"`
	MinLargeBet              float64 `mapstructure:"min_large_bet"`
	MaxStake                 float64 `mapstructure:"max_stake"`
	ReconcileIntervalSeconds int     `mapstructure:"reconcile_interval_seconds"`
	MaxExposureMultiplier    float64 `mapstructure:"max_exposure_multiplier"`
	FillWaitSeconds          int     `mapstructure:"fill_wait_seconds"`
	BalanceBuffer            float64 `mapstructure:"balance_buffer"`
	StakeDiffThreshold       float64 `mapstructure:"stake_diff_threshold"`
	RecentOrdersWindowHours  int     `mapstructure:"recent_orders_window_hours"`
	DryRun                   bool    `mapstructure:"dry_run"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("exchange.api_key", "EXCHANGE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind EXCHANGE_API_KEY environment variable: %w", err)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := ValidateTrading(&config.Trading); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateTrading enforces the bounds the reconciliation loop relies on.
// Out-of-range values that have a safe interpretation are clamped; values
// with no safe interpretation are rejected.
func ValidateTrading(t *TradingConfig) error {
	if t.CommissionRate <= 0 || t.CommissionRate >= 1 {
		return fmt.Errorf("commission rate must be in (0, 1), got %v", t.CommissionRate)
	}
	if t.MaxStake <= 0 {
		return fmt.Errorf("max stake must be positive, got %v", t.MaxStake)
	}
	// Interval floor keeps the loop from hammering the exchange.
	if t.ReconcileIntervalSeconds < 10 {
		t.ReconcileIntervalSeconds = 10
	}
	if t.MaxExposureMultiplier < 1.0 {
		t.MaxExposureMultiplier = 1.0
	}
	if t.MaxExposureMultiplier > 10.0 {
		t.MaxExposureMultiplier = 10.0
	}
	if t.FillWaitSeconds <= 0 {
		t.FillWaitSeconds = 300
	}
	if t.StakeDiffThreshold <= 0 {
		t.StakeDiffThreshold = 10.0
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)

	// Exchange
	viper.SetDefault("exchange.base_url", "http://localhost:9000")
	viper.SetDefault("exchange.api_key", "")
	viper.SetDefault("exchange.timeout", 30)

	// Database (optional, persists the action audit trail)
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "mirrorbet")
	viper.SetDefault("database.sslmode", "disable")

	// Redis (optional, backs the scanner's seen-bet cache)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Trading
	viper.SetDefault("trading.commission_rate", 0.03)
	viper.SetDefault("trading.min_large_bet", 500.0)
	viper.SetDefault("trading.max_stake", 1000.0)
	viper.SetDefault("trading.reconcile_interval_seconds", 60)
	viper.SetDefault("trading.max_exposure_multiplier", 3.0)
	viper.SetDefault("trading.fill_wait_seconds", 300)
	viper.SetDefault("trading.balance_buffer", 10.0)
	viper.SetDefault("trading.stake_diff_threshold", 10.0)
	viper.SetDefault("trading.recent_orders_window_hours", 24)
	viper.SetDefault("trading.dry_run", true)
}
