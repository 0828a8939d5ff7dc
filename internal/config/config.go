package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/0xBreath/lunar-engine/pkg/secrets"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
}

type TradingConfig struct {
	Symbol     string `mapstructure:"symbol"`
	BaseAsset  string `mapstructure:"base_asset"`
	QuoteAsset string `mapstructure:"quote_asset"`
	Interval   string `mapstructure:"interval"`

	// Exit methods: kind is "ticks" (hundredths of a quote unit) or "bips"
	// (basis points of the reference price).
	TakeProfitKind  string  `mapstructure:"take_profit_kind"`
	TakeProfitValue float64 `mapstructure:"take_profit_value"`
	StopLossKind    string  `mapstructure:"stop_loss_kind"`
	StopLossValue   float64 `mapstructure:"stop_loss_value"`

	// SignalLevel feeds the threshold-crossover strategy.
	SignalLevel float64 `mapstructure:"signal_level"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type GCPConfig struct {
	ProjectID   string              `mapstructure:"project_id"`
	UseSecrets  bool                `mapstructure:"use_secrets"`
	SecretNames secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/lunar-engine")
	}

	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the engine cannot trade with.
func (c *Config) Validate() error {
	if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
		return fmt.Errorf("binance api key and secret are required")
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol is required")
	}
	if c.Trading.BaseAsset == "" || c.Trading.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets are required")
	}
	switch c.Trading.TakeProfitKind {
	case "ticks", "bips":
	default:
		return fmt.Errorf("invalid take_profit_kind %q", c.Trading.TakeProfitKind)
	}
	switch c.Trading.StopLossKind {
	case "ticks", "bips":
	default:
		return fmt.Errorf("invalid stop_loss_kind %q", c.Trading.StopLossKind)
	}
	if c.Trading.TakeProfitValue <= 0 || c.Trading.StopLossValue <= 0 {
		return fmt.Errorf("exit distances must be positive")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the journal is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")

	// Binance defaults
	v.SetDefault("binance.testnet", false)

	// Trading defaults
	v.SetDefault("trading.symbol", "BTCUSD")
	v.SetDefault("trading.base_asset", "BTC")
	v.SetDefault("trading.quote_asset", "USD")
	v.SetDefault("trading.interval", "30m")
	v.SetDefault("trading.take_profit_kind", "ticks")
	v.SetDefault("trading.take_profit_value", 350)
	v.SetDefault("trading.stop_loss_kind", "ticks")
	v.SetDefault("trading.stop_loss_value", 50)
	v.SetDefault("trading.signal_level", 0)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	// Secret name defaults
	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
	v.SetDefault("gcp.secret_names.api_secret", secretNames.APISecret)
	v.SetDefault("gcp.secret_names.journal_dsn", secretNames.JournalDSN)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
}

func overrideFromEnv(config *Config) {
	// Binance credentials from environment
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		config.Binance.APIKey = apiKey
	}
	if apiSecret := os.Getenv("BINANCE_API_SECRET"); apiSecret != "" {
		config.Binance.APISecret = apiSecret
	}
	if testnet := os.Getenv("BINANCE_TESTNET"); testnet == "true" {
		config.Binance.Testnet = true
	}

	// Journal and status server from environment
	if dsn := os.Getenv("JOURNAL_DSN"); dsn != "" {
		config.Database.DSN = dsn
		config.Database.Enabled = true
	}
	if secret := os.Getenv("STATUS_JWT_SECRET"); secret != "" {
		config.Server.JWTSecret = secret
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that are not already set
	if config.Binance.APIKey == "" {
		config.Binance.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APIKey, "")
	}
	if config.Binance.APISecret == "" {
		config.Binance.APISecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APISecret, "")
	}
	if config.Database.DSN == "" {
		config.Database.DSN = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.JournalDSN, "")
		if config.Database.DSN != "" {
			config.Database.Enabled = true
		}
	}
	if config.Server.JWTSecret == "" {
		config.Server.JWTSecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.JWTSecret, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
