// Package config provides configuration loading and validation for signaltrader.
// It uses Viper to load YAML configuration files with support for environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"signaltrader/pkg/infra/postgres"
	"signaltrader/pkg/infra/redis"
)

// Environment variables holding secrets.
const (
	EnvBinanceAPIKey    = "BINANCE_API_KEY"
	EnvBinanceAPISecret = "BINANCE_API_SECRET"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
)

// Market types.
const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
)

// Ledger backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

const redacted = "[redacted]"

// Config is the root configuration structure.
type Config struct {
	// App contains application-level settings like name and environment.
	App AppConfig `mapstructure:"app" yaml:"app"`
	// Exchange configures the Binance connection.
	Exchange ExchangeConfig `mapstructure:"exchange" yaml:"exchange"`
	// Trading configures the market and order sizing.
	Trading TradingConfig `mapstructure:"trading" yaml:"trading"`
	// Ledger selects where pending limit buys are persisted.
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger"`
	// Intake configures the chat message consumer.
	Intake IntakeConfig `mapstructure:"intake" yaml:"intake"`
	// Notification configures the notification sinks.
	Notification NotificationConfig `mapstructure:"notification" yaml:"notification"`
	// Server configures the admin HTTP server.
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	// Secrets are read from the environment, never from the file.
	Secrets Secrets `mapstructure:"-" yaml:"secrets"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	// Name is the application name used in logs.
	Name string `mapstructure:"name" yaml:"name"`
	// Env is the environment: "development", "staging", or "production".
	Env string `mapstructure:"env" yaml:"env"`
	// LogLevel sets logging verbosity: "debug", "info", "warn", "error".
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// ExchangeConfig contains Binance connection settings.
type ExchangeConfig struct {
	// Testnet enables the Binance testnet.
	Testnet bool `mapstructure:"testnet" yaml:"testnet"`
	// RateLimit is the request weight allowed per minute.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
	// RecvWindow is the signed request validity in milliseconds.
	RecvWindow int64 `mapstructure:"recv_window" yaml:"recv_window"`
	// WebSocket configures the user data stream.
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
}

// WebSocketConfig contains user data stream settings.
type WebSocketConfig struct {
	// PingInterval is the interval between ping messages.
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	// ReconnectDelay is the first delay before reconnecting.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	// KeepAliveInterval is the interval between listen key renewals.
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
}

// TradingConfig contains market and sizing settings.
type TradingConfig struct {
	// MarketType is "spot" or "futures".
	MarketType string `mapstructure:"market_type" yaml:"market_type"`
	// StopPriceCorrection lifts the spot stop trigger above the stop-limit price (e.g., "0.005").
	StopPriceCorrection string `mapstructure:"stop_price_correction" yaml:"stop_price_correction"`
	// FillPollDelay is the wait before re-polling an unfilled market order.
	FillPollDelay time.Duration `mapstructure:"fill_poll_delay" yaml:"fill_poll_delay"`
	// Spot configures spot trading.
	Spot SpotConfig `mapstructure:"spot" yaml:"spot"`
	// Futures configures futures trading.
	Futures FuturesConfig `mapstructure:"futures" yaml:"futures"`
}

// SpotConfig contains spot sizing settings.
type SpotConfig struct {
	// TradeAmount maps a quote asset to the amount spent per buy (e.g., USDT: "20").
	TradeAmount map[string]string `mapstructure:"trade_amount" yaml:"trade_amount"`
}

// FuturesConfig contains futures sizing settings.
type FuturesConfig struct {
	// TradeAmount is the margin spent per buy.
	TradeAmount string `mapstructure:"trade_amount" yaml:"trade_amount"`
	// Leverage is applied to every entry.
	Leverage int `mapstructure:"leverage" yaml:"leverage"`
	// MarginType is "ISOLATED" or "CROSS".
	MarginType string `mapstructure:"margin_type" yaml:"margin_type"`
}

// LedgerConfig contains ledger persistence settings.
type LedgerConfig struct {
	// Backend is "file", "redis" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// File configures the file backend.
	File FileConfig `mapstructure:"file" yaml:"file"`
	// Redis configures the redis backend.
	Redis redis.Config `mapstructure:"redis" yaml:"redis"`
	// Postgres configures the postgres backend.
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres"`
}

// FileConfig contains file backend settings.
type FileConfig struct {
	// Path is the snapshot file.
	Path string `mapstructure:"path" yaml:"path"`
}

// IntakeConfig contains chat message intake settings.
type IntakeConfig struct {
	// Kafka configures the consumer.
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	// Channels restricts the accepted chat channels. Empty accepts all.
	Channels []string `mapstructure:"channels" yaml:"channels"`
}

// KafkaConfig contains Kafka consumer settings.
type KafkaConfig struct {
	// Brokers are the bootstrap addresses.
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	// Topic carries the chat messages.
	Topic string `mapstructure:"topic" yaml:"topic"`
	// GroupID is the consumer group.
	GroupID string `mapstructure:"group_id" yaml:"group_id"`
}

// NotificationConfig contains notification settings.
type NotificationConfig struct {
	// LogFile, when set, receives every notification.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// Telegram configures Telegram bot notifications.
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// TelegramConfig contains Telegram notification settings.
type TelegramConfig struct {
	// Enabled determines if Telegram notifications are active.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// ChatID is the chat receiving the notifications.
	ChatID int64 `mapstructure:"chat_id" yaml:"chat_id"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// HTTP configures the HTTP server.
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	// Port is the port to listen on.
	Port int `mapstructure:"port" yaml:"port"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Secrets holds credentials read from the environment.
type Secrets struct {
	BinanceAPIKey    string `yaml:"binance_api_key"`
	BinanceAPISecret string `yaml:"binance_api_secret"`
	TelegramToken    string `yaml:"telegram_bot_token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "signaltrader")
	v.SetDefault("app.env", "production")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.rate_limit", 1200)
	v.SetDefault("exchange.recv_window", 5000)
	v.SetDefault("exchange.websocket.ping_interval", 20*time.Second)
	v.SetDefault("exchange.websocket.reconnect_delay", time.Second)
	v.SetDefault("exchange.websocket.keepalive_interval", 30*time.Minute)

	v.SetDefault("trading.market_type", MarketSpot)
	v.SetDefault("trading.stop_price_correction", "0.005")
	v.SetDefault("trading.fill_poll_delay", time.Second)
	v.SetDefault("trading.futures.leverage", 1)
	v.SetDefault("trading.futures.margin_type", "ISOLATED")

	v.SetDefault("ledger.backend", BackendFile)
	v.SetDefault("ledger.file.path", "data/pending_orders.json")
	v.SetDefault("ledger.redis.key", "signaltrader:pending_orders")
	v.SetDefault("ledger.postgres.handle", "pending_orders")

	v.SetDefault("intake.kafka.topic", "chat-messages")
	v.SetDefault("intake.kafka.group_id", "signaltrader")

	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", 5*time.Second)
	v.SetDefault("server.http.write_timeout", 10*time.Second)
}

// Load reads configuration from a YAML file at the given path.
// It also supports environment variable overrides with the SIGNALTRADER_ prefix.
// Secrets are read from BINANCE_API_KEY, BINANCE_API_SECRET and TELEGRAM_BOT_TOKEN.
// Returns an error if the file cannot be read, parsed, or fails validation.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SIGNALTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Secrets = Secrets{
		BinanceAPIKey:    os.Getenv(EnvBinanceAPIKey),
		BinanceAPISecret: os.Getenv(EnvBinanceAPISecret),
		TelegramToken:    os.Getenv(EnvTelegramToken),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app.name is required")
	}

	if c.Secrets.BinanceAPIKey == "" || c.Secrets.BinanceAPISecret == "" {
		return fmt.Errorf("%s and %s are required", EnvBinanceAPIKey, EnvBinanceAPISecret)
	}

	if err := c.Trading.validate(); err != nil {
		return err
	}

	switch c.Ledger.Backend {
	case BackendFile:
		if c.Ledger.File.Path == "" {
			return errors.New("ledger.file.path is required")
		}
	case BackendRedis:
		if c.Ledger.Redis.URL == "" || c.Ledger.Redis.Key == "" {
			return errors.New("ledger.redis.url and ledger.redis.key are required")
		}
	case BackendPostgres:
		if c.Ledger.Postgres.DataSource == "" || c.Ledger.Postgres.Handle == "" {
			return errors.New("ledger.postgres.data_source and ledger.postgres.handle are required")
		}
	default:
		return fmt.Errorf("ledger.backend %q is not supported", c.Ledger.Backend)
	}

	if len(c.Intake.Kafka.Brokers) == 0 {
		return errors.New("intake.kafka.brokers is required")
	}
	if c.Intake.Kafka.Topic == "" || c.Intake.Kafka.GroupID == "" {
		return errors.New("intake.kafka.topic and intake.kafka.group_id are required")
	}

	if c.Notification.Telegram.Enabled {
		if c.Secrets.TelegramToken == "" {
			return fmt.Errorf("%s is required when telegram is enabled", EnvTelegramToken)
		}
		if c.Notification.Telegram.ChatID == 0 {
			return errors.New("notification.telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Server.HTTP.Port <= 0 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("server.http.port %d is out of range", c.Server.HTTP.Port)
	}

	return nil
}

func (t *TradingConfig) validate() error {
	if _, err := t.StopCorrection(); err != nil {
		return err
	}
	if t.FillPollDelay <= 0 {
		return errors.New("trading.fill_poll_delay must be positive")
	}

	switch t.MarketType {
	case MarketSpot:
		amounts, err := t.SpotAmounts()
		if err != nil {
			return err
		}
		if len(amounts) == 0 {
			return errors.New("trading.spot.trade_amount needs at least one quote asset")
		}
	case MarketFutures:
		if _, err := t.FuturesAmount(); err != nil {
			return err
		}
		if t.Futures.Leverage < 1 {
			return errors.New("trading.futures.leverage must be at least 1")
		}
		if t.Futures.MarginType != "ISOLATED" && t.Futures.MarginType != "CROSS" {
			return fmt.Errorf("trading.futures.margin_type %q must be ISOLATED or CROSS", t.Futures.MarginType)
		}
	default:
		return fmt.Errorf("trading.market_type %q must be %s or %s", t.MarketType, MarketSpot, MarketFutures)
	}
	return nil
}

// StopCorrection returns the parsed stop price correction.
func (t *TradingConfig) StopCorrection() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.StopPriceCorrection)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("trading.stop_price_correction %q must be a positive decimal", t.StopPriceCorrection)
	}
	return d, nil
}

// SpotAmounts returns the spot trade amounts keyed by upper case quote asset.
func (t *TradingConfig) SpotAmounts() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(t.Spot.TradeAmount))
	for quote, raw := range t.Spot.TradeAmount {
		d, err := decimal.NewFromString(raw)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("trading.spot.trade_amount.%s %q must be a positive decimal", quote, raw)
		}
		// Viper lower cases map keys.
		out[strings.ToUpper(quote)] = d
	}
	return out, nil
}

// FuturesAmount returns the futures trade amount.
func (t *TradingConfig) FuturesAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.Futures.TradeAmount)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("trading.futures.trade_amount %q must be a positive decimal", t.Futures.TradeAmount)
	}
	return d, nil
}

// IsDevelopment returns true if the environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsFutures returns true when trading futures.
func (c *Config) IsFutures() bool {
	return c.Trading.MarketType == MarketFutures
}

// Redacted returns a copy with secrets and connection strings masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Secrets = Secrets{
		BinanceAPIKey:    mask(c.Secrets.BinanceAPIKey),
		BinanceAPISecret: mask(c.Secrets.BinanceAPISecret),
		TelegramToken:    mask(c.Secrets.TelegramToken),
	}
	out.Ledger.Redis.URL = mask(c.Ledger.Redis.URL)
	out.Ledger.Postgres.DataSource = mask(c.Ledger.Postgres.DataSource)
	if len(c.Ledger.Postgres.Replicas) > 0 {
		out.Ledger.Postgres.Replicas = make([]string, len(c.Ledger.Postgres.Replicas))
		for i := range out.Ledger.Postgres.Replicas {
			out.Ledger.Postgres.Replicas[i] = redacted
		}
	}
	return &out
}

// YAML encodes the configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}
