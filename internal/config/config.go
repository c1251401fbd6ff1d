// Package config defines the top-level configuration for the scalping engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SCALPD_* environment variables. The
// value is built once at startup and passed to every component; nothing reads
// configuration ambiently after that.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Risk     RiskConfig     `toml:"risk"`
	Trade    TradeConfig    `toml:"trade"`
	Walls    WallConfig     `toml:"walls"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Journal  JournalConfig  `toml:"journal"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	StateDir string         `toml:"state_dir"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds API endpoints and credentials. Demo and Live are
// mutually exclusive; demo routes orders to the exchange's simulated-trading
// environment while consuming real market data.
type ExchangeConfig struct {
	RestURL       string `toml:"rest_url"`
	PublicWsURL   string `toml:"public_ws_url"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	Demo          bool   `toml:"demo"`
	Live          bool   `toml:"live"`
}

// RiskConfig holds the multi-period loss budget and circuit-breaker
// parameters.
type RiskConfig struct {
	RiskPerTrade         float64  `toml:"risk_per_trade"`
	InitialBalance       float64  `toml:"initial_balance"`
	Leverage             int      `toml:"leverage"`
	MarginMode           string   `toml:"margin_mode"`
	PositionMode         string   `toml:"position_mode"`
	MaxDailyLoss         float64  `toml:"max_daily_loss"`
	MaxWeeklyLoss        float64  `toml:"max_weekly_loss"`
	MaxMonthlyLoss       float64  `toml:"max_monthly_loss"`
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	CooldownAfterLoss    duration `toml:"cooldown_after_loss"`
	ConsecutiveLossPause duration `toml:"consecutive_loss_pause"`
}

// TradeConfig holds per-trade exit parameters.
type TradeConfig struct {
	StopLossPct   float64  `toml:"stop_loss_pct"`
	TakeProfitPct float64  `toml:"take_profit_pct"`
	MaxHoldTime   duration `toml:"max_hold_time"`
}

// WallConfig holds the wall-detection thresholds.
type WallConfig struct {
	MinMultiplier   float64  `toml:"min_multiplier"`
	Persistence     duration `toml:"persistence"`
	MinAbsorption   int      `toml:"min_absorption"`
	MaxDistancePct  float64  `toml:"max_distance_pct"`
	RoundNumberBonus float64 `toml:"round_number_bonus"`
}

// ScannerConfig holds the watchlist and opportunity filters.
type ScannerConfig struct {
	Watchlist      []string `toml:"watchlist"`
	MinSignalScore float64  `toml:"min_signal_score"`
	MaxSpreadPct   float64  `toml:"max_spread_pct"`
	MinVolume24h   float64  `toml:"min_volume_24h"`
	ScanInterval   duration `toml:"scan_interval"`
}

// JournalConfig holds PostgreSQL connection parameters for the closed-trade
// journal. The journal is disabled when DSN is empty.
type JournalConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds connection parameters for the event bus. The bus is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
	TLS      bool   `toml:"tls"`
}

// S3Config holds object-storage parameters for journal archival.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestURL:     "https://www.okx.com",
			PublicWsURL: "wss://ws.okx.com:8443/ws/v5/public",
			Demo:        true,
			Live:        false,
		},
		Risk: RiskConfig{
			RiskPerTrade:         0.01,
			InitialBalance:       10_000,
			Leverage:             10,
			MarginMode:           "isolated",
			PositionMode:         "long_short",
			MaxDailyLoss:         0.03,
			MaxWeeklyLoss:        0.07,
			MaxMonthlyLoss:       0.15,
			MaxConsecutiveLosses: 3,
			CooldownAfterLoss:    duration{5 * time.Minute},
			ConsecutiveLossPause: duration{1 * time.Hour},
		},
		Trade: TradeConfig{
			StopLossPct:   0.004,
			TakeProfitPct: 0.006,
			MaxHoldTime:   duration{30 * time.Minute},
		},
		Walls: WallConfig{
			MinMultiplier:    10.0,
			Persistence:      duration{30 * time.Second},
			MinAbsorption:    3,
			MaxDistancePct:   0.005,
			RoundNumberBonus: 10.0,
		},
		Scanner: ScannerConfig{
			Watchlist:      []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP", "SOL-USDT-SWAP"},
			MinSignalScore: 60.0,
			MaxSpreadPct:   0.0005,
			MinVolume24h:   1_000_000,
			ScanInterval:   duration{time.Second},
		},
		Journal: JournalConfig{
			PoolMaxConns: 5,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		S3: S3Config{
			Region:          "us-east-1",
			RetentionDays:   90,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "breaker_tripped", "reconcile_mismatch", "error"},
		},
		StateDir: "state",
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or contradictory values and returns a
// combined error describing every problem found. Invalid configuration is
// fatal: values are never silently clamped.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.Demo == c.Exchange.Live {
		errs = append(errs, "exchange: exactly one of demo and live must be set")
	}
	if c.Exchange.PublicWsURL == "" {
		errs = append(errs, "exchange: public_ws_url must not be empty")
	}
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}

	// Risk
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		errs = append(errs, fmt.Sprintf("risk: risk_per_trade must be in (0, 1), got %v", c.Risk.RiskPerTrade))
	}
	if c.Risk.InitialBalance <= 0 {
		errs = append(errs, "risk: initial_balance must be > 0")
	}
	if c.Risk.Leverage < 1 {
		errs = append(errs, fmt.Sprintf("risk: leverage must be >= 1, got %d", c.Risk.Leverage))
	}
	if c.Risk.MarginMode != "cross" && c.Risk.MarginMode != "isolated" {
		errs = append(errs, fmt.Sprintf("risk: margin_mode must be cross or isolated, got %q", c.Risk.MarginMode))
	}
	if c.Risk.PositionMode != "net" && c.Risk.PositionMode != "long_short" {
		errs = append(errs, fmt.Sprintf("risk: position_mode must be net or long_short, got %q", c.Risk.PositionMode))
	}
	for _, lim := range []struct {
		name string
		v    float64
	}{
		{"max_daily_loss", c.Risk.MaxDailyLoss},
		{"max_weekly_loss", c.Risk.MaxWeeklyLoss},
		{"max_monthly_loss", c.Risk.MaxMonthlyLoss},
	} {
		if lim.v <= 0 || lim.v >= 1 {
			errs = append(errs, fmt.Sprintf("risk: %s must be in (0, 1), got %v", lim.name, lim.v))
		}
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		errs = append(errs, "risk: max_consecutive_losses must be >= 1")
	}
	if c.Risk.CooldownAfterLoss.Duration <= 0 {
		errs = append(errs, "risk: cooldown_after_loss must be positive")
	}
	if c.Risk.ConsecutiveLossPause.Duration <= 0 {
		errs = append(errs, "risk: consecutive_loss_pause must be positive")
	}

	// Trade
	if c.Trade.StopLossPct <= 0 {
		errs = append(errs, "trade: stop_loss_pct must be > 0")
	}
	if c.Trade.TakeProfitPct <= 0 {
		errs = append(errs, "trade: take_profit_pct must be > 0")
	}
	if c.Trade.TakeProfitPct < c.Trade.StopLossPct {
		errs = append(errs, fmt.Sprintf("trade: take_profit_pct %v is below stop_loss_pct %v", c.Trade.TakeProfitPct, c.Trade.StopLossPct))
	}
	if c.Trade.MaxHoldTime.Duration <= 0 {
		errs = append(errs, "trade: max_hold_time must be positive")
	}

	// Walls
	if c.Walls.MinMultiplier <= 1 {
		errs = append(errs, fmt.Sprintf("walls: min_multiplier must be > 1, got %v", c.Walls.MinMultiplier))
	}
	if c.Walls.Persistence.Duration <= 0 {
		errs = append(errs, "walls: persistence must be positive")
	}
	if c.Walls.MinAbsorption < 0 {
		errs = append(errs, "walls: min_absorption must be >= 0")
	}
	if c.Walls.MaxDistancePct <= 0 || c.Walls.MaxDistancePct >= 1 {
		errs = append(errs, fmt.Sprintf("walls: max_distance_pct must be in (0, 1), got %v", c.Walls.MaxDistancePct))
	}
	if c.Walls.RoundNumberBonus < 0 {
		errs = append(errs, "walls: round_number_bonus must be >= 0")
	}

	// Scanner
	if len(c.Scanner.Watchlist) == 0 {
		errs = append(errs, "scanner: watchlist must not be empty")
	}
	for _, inst := range c.Scanner.Watchlist {
		if strings.TrimSpace(inst) == "" {
			errs = append(errs, "scanner: watchlist contains an empty instrument id")
			break
		}
	}
	if c.Scanner.MinSignalScore < 0 || c.Scanner.MinSignalScore > 100 {
		errs = append(errs, fmt.Sprintf("scanner: min_signal_score must be in [0, 100], got %v", c.Scanner.MinSignalScore))
	}
	if c.Scanner.MaxSpreadPct <= 0 {
		errs = append(errs, "scanner: max_spread_pct must be > 0")
	}
	if c.Scanner.MinVolume24h < 0 {
		errs = append(errs, "scanner: min_volume_24h must be >= 0")
	}
	if c.Scanner.ScanInterval.Duration <= 0 {
		errs = append(errs, "scanner: scan_interval must be positive")
	}

	// Journal
	if c.Journal.DSN != "" {
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
		if c.Journal.PoolMinConns < 0 || c.Journal.PoolMinConns > c.Journal.PoolMaxConns {
			errs = append(errs, "journal: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive when enabled")
		}
		if c.Journal.DSN == "" {
			errs = append(errs, "s3: archival requires journal.dsn to be set")
		}
	}

	// State dir
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, "state_dir must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RiskRewardRatio returns take_profit_pct / stop_loss_pct.
func (c *Config) RiskRewardRatio() float64 {
	return c.Trade.TakeProfitPct / c.Trade.StopLossPct
}

// BreakEvenWinRate returns the win rate at which the configured exits break
// even: stop / (stop + target).
func (c *Config) BreakEvenWinRate() float64 {
	return c.Trade.StopLossPct / (c.Trade.TakeProfitPct + c.Trade.StopLossPct)
}
