package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/web3guy0/qqqbot/strategy"
)

// Trading modes
const (
	ModeDryRun = "dry-run" // in-process paper broker
	ModePaper  = "paper"   // broker paper account
	ModeLive   = "live"
)

// EnvPrefix prefixes every environment override (QQQBOT_SIGNAL_SMA_LENGTH)
const EnvPrefix = "QQQBOT"

// Config holds all configuration for the bot
type Config struct {
	Trading  TradingConfig  `mapstructure:"trading"`
	Signal   SignalConfig   `mapstructure:"signal"`
	IOC      IOCConfig      `mapstructure:"ioc"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type TradingConfig struct {
	Mode           string          `mapstructure:"mode"`
	StartingAmount decimal.Decimal `mapstructure:"starting_amount"`
	Benchmark      string          `mapstructure:"benchmark"`
	BullSymbol     string          `mapstructure:"bull_symbol"`
	BearSymbol     string          `mapstructure:"bear_symbol"`
}

// SignalConfig drives the SMA band and the neutral debounce
type SignalConfig struct {
	SMALength     int             `mapstructure:"sma_length"`
	ChopThreshold decimal.Decimal `mapstructure:"chop_threshold"` // fraction: 0.0015 = 0.15%
	NeutralWait   time.Duration   `mapstructure:"neutral_wait"`
	CloseCutoff   string          `mapstructure:"close_cutoff"` // HH:MM exchange time, empty disables
	Timezone      string          `mapstructure:"timezone"`
}

type IOCConfig struct {
	Enabled            bool            `mapstructure:"enabled"`
	PriceStep          decimal.Decimal `mapstructure:"price_step"`
	MaxRetries         int             `mapstructure:"max_retries"`
	MaxDeviation       decimal.Decimal `mapstructure:"max_deviation"` // fraction of the start price
	LimitOffset        decimal.Decimal `mapstructure:"limit_offset"`
	MarketFallbackSell bool            `mapstructure:"market_fallback_sell"`
	MarketFallbackBuy  bool            `mapstructure:"market_fallback_buy"`
	MarketPollAttempts int             `mapstructure:"market_poll_attempts"`
	MarketPollInterval time.Duration   `mapstructure:"market_poll_interval"`
}

type LoopConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SessionOpen     string        `mapstructure:"session_open"`
	SessionClose    string        `mapstructure:"session_close"`
	MaxTickFailures int           `mapstructure:"max_tick_failures"` // consecutive failed ticks before a pause, 0 disables
	ErrorCooldown   time.Duration `mapstructure:"error_cooldown"`
}

// BrokerConfig covers the REST API, the quote stream and the dry-run broker
type BrokerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	DataURL        string        `mapstructure:"data_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	KeyID          string        `mapstructure:"key_id"`
	SecretKey      string        `mapstructure:"secret_key"`
	Feed           string        `mapstructure:"feed"`
	Timeout        time.Duration `mapstructure:"timeout"`
	StreamEnabled  bool          `mapstructure:"stream_enabled"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	SlippageBps    int64         `mapstructure:"slippage_bps"`
	SettleAttempts int           `mapstructure:"settle_attempts"`
}

type StorageConfig struct {
	StatePath  string `mapstructure:"state_path"`
	JournalDSN string `mapstructure:"journal_dsn"` // sqlite path or postgres:// URL, empty disables
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// MetricsConfig enables the HTTP endpoint: /metrics plus the read-only /api routes
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

// Load reads .env, an optional config file and QQQBOT_* overrides.
// path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("⚠️ .env unreadable, using environment only")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", ModeDryRun)
	v.SetDefault("trading.starting_amount", "10000")
	v.SetDefault("trading.benchmark", "QQQ")
	v.SetDefault("trading.bull_symbol", "TQQQ")
	v.SetDefault("trading.bear_symbol", "SQQQ")

	v.SetDefault("signal.sma_length", 60)
	v.SetDefault("signal.chop_threshold", "0.0015")
	v.SetDefault("signal.neutral_wait", "30s")
	v.SetDefault("signal.close_cutoff", "15:55")
	v.SetDefault("signal.timezone", "America/New_York")

	v.SetDefault("ioc.enabled", true)
	v.SetDefault("ioc.price_step", "0.01")
	v.SetDefault("ioc.max_retries", 10)
	v.SetDefault("ioc.max_deviation", "0.005")
	v.SetDefault("ioc.limit_offset", "0.02")
	v.SetDefault("ioc.market_fallback_sell", true)
	v.SetDefault("ioc.market_fallback_buy", false)
	v.SetDefault("ioc.market_poll_attempts", 10)
	v.SetDefault("ioc.market_poll_interval", "500ms")

	v.SetDefault("loop.poll_interval", "1s")
	v.SetDefault("loop.session_open", "09:30")
	v.SetDefault("loop.session_close", "16:00")
	v.SetDefault("loop.max_tick_failures", 10)
	v.SetDefault("loop.error_cooldown", "30s")

	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.data_url", "https://data.alpaca.markets")
	v.SetDefault("broker.stream_url", "wss://stream.data.alpaca.markets/v2/iex")
	v.SetDefault("broker.key_id", "")
	v.SetDefault("broker.secret_key", "")
	v.SetDefault("broker.feed", "iex")
	v.SetDefault("broker.timeout", "10s")
	v.SetDefault("broker.stream_enabled", false)
	v.SetDefault("broker.stale_after", "5s")
	v.SetDefault("broker.slippage_bps", 2)
	v.SetDefault("broker.settle_attempts", 5)

	v.SetDefault("storage.state_path", "data/trading_state.json")
	v.SetDefault("storage.journal_dsn", "data/qqqbot.db")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// bindLegacyEnv keeps the conventional broker and Telegram variable names working
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("broker.key_id", EnvPrefix+"_BROKER_KEY_ID", "APCA_API_KEY_ID")
	_ = v.BindEnv("broker.secret_key", EnvPrefix+"_BROKER_SECRET_KEY", "APCA_API_SECRET_KEY")
	_ = v.BindEnv("telegram.bot_token", EnvPrefix+"_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", EnvPrefix+"_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal
func decimalHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return data, nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModeDryRun, ModePaper, ModeLive:
	default:
		return fmt.Errorf("trading.mode must be one of: %s, %s, %s", ModeDryRun, ModePaper, ModeLive)
	}
	if !c.Trading.StartingAmount.IsPositive() {
		return fmt.Errorf("trading.starting_amount must be positive")
	}
	if c.Trading.Benchmark == "" || c.Trading.BullSymbol == "" || c.Trading.BearSymbol == "" {
		return fmt.Errorf("trading.benchmark, trading.bull_symbol and trading.bear_symbol are required")
	}
	if c.Trading.BullSymbol == c.Trading.BearSymbol {
		return fmt.Errorf("trading.bull_symbol and trading.bear_symbol must differ")
	}

	if c.Signal.SMALength < 1 {
		return fmt.Errorf("signal.sma_length must be at least 1")
	}
	if c.Signal.ChopThreshold.IsNegative() || c.Signal.ChopThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("signal.chop_threshold must be in [0, 1)")
	}
	if c.Signal.NeutralWait < 0 {
		return fmt.Errorf("signal.neutral_wait must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("signal.timezone: %w", err)
	}
	if c.Signal.CloseCutoff != "" {
		if _, err := strategy.ParseClock(c.Signal.CloseCutoff); err != nil {
			return fmt.Errorf("signal.close_cutoff: %w", err)
		}
	}

	if c.IOC.Enabled {
		if !c.IOC.PriceStep.IsPositive() {
			return fmt.Errorf("ioc.price_step must be positive")
		}
		if c.IOC.MaxRetries < 1 {
			return fmt.Errorf("ioc.max_retries must be at least 1")
		}
		if c.IOC.MaxDeviation.IsNegative() {
			return fmt.Errorf("ioc.max_deviation must not be negative")
		}
	}
	if c.IOC.LimitOffset.IsNegative() {
		return fmt.Errorf("ioc.limit_offset must not be negative")
	}
	if !c.IOC.Enabled && !c.IOC.MarketFallbackBuy {
		log.Warn().Msg("⚠️ IOC disabled: buys will use market orders")
	}

	if c.Loop.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("loop.poll_interval must be at least 100ms")
	}
	open, err := strategy.ParseClock(c.Loop.SessionOpen)
	if err != nil {
		return fmt.Errorf("loop.session_open: %w", err)
	}
	closing, err := strategy.ParseClock(c.Loop.SessionClose)
	if err != nil {
		return fmt.Errorf("loop.session_close: %w", err)
	}
	if closing <= open {
		return fmt.Errorf("loop.session_close must be after loop.session_open")
	}
	if c.Loop.MaxTickFailures < 0 || c.Loop.ErrorCooldown < 0 {
		return fmt.Errorf("loop.max_tick_failures and loop.error_cooldown must not be negative")
	}

	if c.Trading.Mode != ModeDryRun {
		if c.Broker.BaseURL == "" || c.Broker.DataURL == "" {
			return fmt.Errorf("broker.base_url and broker.data_url are required in %s mode", c.Trading.Mode)
		}
		if c.Broker.KeyID == "" || c.Broker.SecretKey == "" {
			return fmt.Errorf("broker.key_id and broker.secret_key are required in %s mode", c.Trading.Mode)
		}
	}
	if c.Broker.StreamEnabled && c.Broker.StreamURL == "" {
		return fmt.Errorf("broker.stream_url is required when the stream is enabled")
	}
	if c.Broker.SlippageBps < 0 {
		return fmt.Errorf("broker.slippage_bps must not be negative")
	}

	if c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	return nil
}

// Location resolves the exchange timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Signal.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Signal.Timezone)
}

// CloseCutoff returns the forced-flatten time of day, 0 when disabled
func (c *Config) CloseCutoff() time.Duration {
	if c.Signal.CloseCutoff == "" {
		return 0
	}
	d, _ := strategy.ParseClock(c.Signal.CloseCutoff)
	return d
}

// Session returns the open and close times of day
func (c *Config) Session() (opens, closes time.Duration) {
	opens, _ = strategy.ParseClock(c.Loop.SessionOpen)
	closes, _ = strategy.ParseClock(c.Loop.SessionClose)
	return opens, closes
}

// IsLive reports whether real money is at stake
func (c *Config) IsLive() bool { return c.Trading.Mode == ModeLive }
