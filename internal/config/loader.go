package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SCALPD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SCALPD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestURL, "SCALPD_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.PublicWsURL, "SCALPD_EXCHANGE_PUBLIC_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "SCALPD_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "SCALPD_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.ApiPassphrase, "SCALPD_EXCHANGE_API_PASSPHRASE")
	setBool(&cfg.Exchange.Demo, "SCALPD_EXCHANGE_DEMO")
	setBool(&cfg.Exchange.Live, "SCALPD_EXCHANGE_LIVE")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPerTrade, "SCALPD_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.InitialBalance, "SCALPD_RISK_INITIAL_BALANCE")
	setInt(&cfg.Risk.Leverage, "SCALPD_RISK_LEVERAGE")
	setStr(&cfg.Risk.MarginMode, "SCALPD_RISK_MARGIN_MODE")
	setStr(&cfg.Risk.PositionMode, "SCALPD_RISK_POSITION_MODE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "SCALPD_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxWeeklyLoss, "SCALPD_RISK_MAX_WEEKLY_LOSS")
	setFloat64(&cfg.Risk.MaxMonthlyLoss, "SCALPD_RISK_MAX_MONTHLY_LOSS")
	setInt(&cfg.Risk.MaxConsecutiveLosses, "SCALPD_RISK_MAX_CONSECUTIVE_LOSSES")
	setDuration(&cfg.Risk.CooldownAfterLoss, "SCALPD_RISK_COOLDOWN_AFTER_LOSS")
	setDuration(&cfg.Risk.ConsecutiveLossPause, "SCALPD_RISK_CONSECUTIVE_LOSS_PAUSE")

	// ── Trade ──
	setFloat64(&cfg.Trade.StopLossPct, "SCALPD_TRADE_STOP_LOSS_PCT")
	setFloat64(&cfg.Trade.TakeProfitPct, "SCALPD_TRADE_TAKE_PROFIT_PCT")
	setDuration(&cfg.Trade.MaxHoldTime, "SCALPD_TRADE_MAX_HOLD_TIME")

	// ── Walls ──
	setFloat64(&cfg.Walls.MinMultiplier, "SCALPD_WALLS_MIN_MULTIPLIER")
	setDuration(&cfg.Walls.Persistence, "SCALPD_WALLS_PERSISTENCE")
	setInt(&cfg.Walls.MinAbsorption, "SCALPD_WALLS_MIN_ABSORPTION")
	setFloat64(&cfg.Walls.MaxDistancePct, "SCALPD_WALLS_MAX_DISTANCE_PCT")
	setFloat64(&cfg.Walls.RoundNumberBonus, "SCALPD_WALLS_ROUND_NUMBER_BONUS")

	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Watchlist, "SCALPD_SCANNER_WATCHLIST")
	setFloat64(&cfg.Scanner.MinSignalScore, "SCALPD_SCANNER_MIN_SIGNAL_SCORE")
	setFloat64(&cfg.Scanner.MaxSpreadPct, "SCALPD_SCANNER_MAX_SPREAD_PCT")
	setFloat64(&cfg.Scanner.MinVolume24h, "SCALPD_SCANNER_MIN_VOLUME_24H")
	setDuration(&cfg.Scanner.ScanInterval, "SCALPD_SCANNER_SCAN_INTERVAL")

	// ── Journal ──
	setStr(&cfg.Journal.DSN, "SCALPD_JOURNAL_DSN")
	setInt(&cfg.Journal.PoolMaxConns, "SCALPD_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "SCALPD_JOURNAL_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SCALPD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SCALPD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCALPD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCALPD_REDIS_POOL_SIZE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SCALPD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SCALPD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SCALPD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SCALPD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SCALPD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SCALPD_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SCALPD_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SCALPD_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "SCALPD_S3_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SCALPD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SCALPD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SCALPD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SCALPD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.StateDir, "SCALPD_STATE_DIR")
	setStr(&cfg.LogLevel, "SCALPD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
