package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qqqbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeDryRun, cfg.Trading.Mode)
	assert.True(t, cfg.Trading.StartingAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "TQQQ", cfg.Trading.BullSymbol)
	assert.Equal(t, 60, cfg.Signal.SMALength)
	assert.Equal(t, "0.0015", cfg.Signal.ChopThreshold.String())
	assert.Equal(t, 30*time.Second, cfg.Signal.NeutralWait)
	assert.Equal(t, 500*time.Millisecond, cfg.IOC.MarketPollInterval)
	assert.Equal(t, 15*time.Hour+55*time.Minute, cfg.CloseCutoff())
	assert.Equal(t, 10, cfg.Loop.MaxTickFailures)
	assert.Equal(t, 30*time.Second, cfg.Loop.ErrorCooldown)

	opens, closes := cfg.Session()
	assert.Equal(t, 9*time.Hour+30*time.Minute, opens)
	assert.Equal(t, 16*time.Hour, closes)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
trading:
  starting_amount: 2500.50
  bull_symbol: SOXL
  bear_symbol: SOXS
signal:
  sma_length: 120
  chop_threshold: 0.002
  neutral_wait: 45s
  close_cutoff: ""
ioc:
  price_step: "0.02"
  max_retries: 7
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "2500.5", cfg.Trading.StartingAmount.String())
	assert.Equal(t, "SOXL", cfg.Trading.BullSymbol)
	assert.Equal(t, 120, cfg.Signal.SMALength)
	assert.Equal(t, "0.002", cfg.Signal.ChopThreshold.String())
	assert.Equal(t, 45*time.Second, cfg.Signal.NeutralWait)
	assert.Equal(t, time.Duration(0), cfg.CloseCutoff())
	assert.Equal(t, "0.02", cfg.IOC.PriceStep.String())
	assert.Equal(t, 7, cfg.IOC.MaxRetries)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QQQBOT_SIGNAL_SMA_LENGTH", "30")
	t.Setenv("QQQBOT_IOC_MAX_DEVIATION", "0.01")
	t.Setenv("QQQBOT_TRADING_MODE", "paper")
	t.Setenv("APCA_API_KEY_ID", "key")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Signal.SMALength)
	assert.Equal(t, "0.01", cfg.IOC.MaxDeviation.String())
	assert.Equal(t, ModePaper, cfg.Trading.Mode)
	assert.Equal(t, "key", cfg.Broker.KeyID)
	assert.Equal(t, "secret", cfg.Broker.SecretKey)
	assert.Equal(t, int64(12345), cfg.Telegram.ChatID)
	assert.False(t, cfg.IsLive())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	t.Setenv("QQQBOT_TRADING_STARTING_AMOUNT", "lots")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Trading.Mode = "yolo" }, "trading.mode"},
		{"zero capital", func(c *Config) { c.Trading.StartingAmount = decimal.Zero }, "trading.starting_amount"},
		{"same symbols", func(c *Config) { c.Trading.BearSymbol = c.Trading.BullSymbol }, "must differ"},
		{"sma length", func(c *Config) { c.Signal.SMALength = 0 }, "signal.sma_length"},
		{"chop", func(c *Config) { c.Signal.ChopThreshold = decimal.NewFromInt(1) }, "signal.chop_threshold"},
		{"timezone", func(c *Config) { c.Signal.Timezone = "Mars/Olympus" }, "signal.timezone"},
		{"cutoff", func(c *Config) { c.Signal.CloseCutoff = "late" }, "signal.close_cutoff"},
		{"ioc step", func(c *Config) { c.IOC.PriceStep = decimal.Zero }, "ioc.price_step"},
		{"ioc retries", func(c *Config) { c.IOC.MaxRetries = 0 }, "ioc.max_retries"},
		{"ioc disabled skips step", func(c *Config) { c.IOC.Enabled = false; c.IOC.PriceStep = decimal.Zero }, ""},
		{"poll", func(c *Config) { c.Loop.PollInterval = time.Millisecond }, "loop.poll_interval"},
		{"session order", func(c *Config) { c.Loop.SessionClose = "09:00" }, "loop.session_close"},
		{"tick failures", func(c *Config) { c.Loop.MaxTickFailures = -1 }, "loop.max_tick_failures"},
		{"live needs keys", func(c *Config) { c.Trading.Mode = ModeLive }, "broker.key_id"},
		{"state path", func(c *Config) { c.Storage.StatePath = "" }, "storage.state_path"},
		{"telegram token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.bot_token"},
		{"telegram chat", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "t" }, "telegram.chat_id"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
