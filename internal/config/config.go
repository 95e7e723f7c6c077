// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot         BotConfig         `mapstructure:"bot"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Account     AccountConfig     `mapstructure:"account"`
	Whitelist   WhitelistConfig   `mapstructure:"whitelist"`
	Log         LogConfig         `mapstructure:"log"`
	Rounds      RoundsConfig      `mapstructure:"rounds"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Revenue     RevenueConfig     `mapstructure:"revenue"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Render      RenderConfig      `mapstructure:"render"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection used for chat UI state and rate limits.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// StakeRateLimit is the number of stake commands a user may send per StakeRateWindow.
	StakeRateLimit  int           `mapstructure:"stake_rate_limit"`
	StakeRateWindow time.Duration `mapstructure:"stake_rate_window"`
}

// AdminConfig holds admin user configuration.
// Admins are stored as privileged accounts.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// AccountConfig holds new-account settings.
type AccountConfig struct {
	InitialBalance int64 `mapstructure:"initial_balance"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RoundsConfig holds the round lifecycle settings.
type RoundsConfig struct {
	TimerSeconds     int           `mapstructure:"timer_seconds"`
	RevealDelay      time.Duration `mapstructure:"reveal_delay"`
	ClosingThreshold time.Duration `mapstructure:"closing_threshold"`
	MaxEventPayout   int64         `mapstructure:"max_event_payout"`
	MinStake         int64         `mapstructure:"min_stake"`
	DefaultVariant   string        `mapstructure:"default_variant"`
}

// LeaderboardConfig holds the farming-detection thresholds for leaderboard points.
type LeaderboardConfig struct {
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
	HedgeTolerance    float64 `mapstructure:"hedge_tolerance"`
}

// RevenueConfig maps chat tiers to the owner's share of each stake, in percent.
type RevenueConfig struct {
	Tiers map[string]float64 `mapstructure:"tiers"`
}

// AuditConfig holds the thresholds above which stakes and winnings are reported.
type AuditConfig struct {
	StakeThreshold int64 `mapstructure:"stake_threshold"`
	WinThreshold   int64 `mapstructure:"win_threshold"`
	ChatID         int64 `mapstructure:"chat_id"`
}

// RenderConfig holds the result attachment settings.
type RenderConfig struct {
	// ImageURLTemplate receives the variant tag and the outcome string, e.g.
	// "https://cdn.example.com/%s/%s.png". Empty disables attachments.
	ImageURLTemplate string `mapstructure:"image_url_template"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Timer returns the configured round length.
func (r *RoundsConfig) Timer() time.Duration {
	return time.Duration(r.TimerSeconds) * time.Second
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, ROUNDS_TIMER_SECONDS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
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
	// Keys without a default are invisible to AutomaticEnv, so secrets get
	// empty ones.
	v.SetDefault("bot.token", "")
	v.SetDefault("database.password", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("render.image_url_template", "")
	v.SetDefault("audit.chat_id", 0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamebot")
	v.SetDefault("database.name", "gamebot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stake_rate_limit", 30)
	v.SetDefault("redis.stake_rate_window", "1m")

	v.SetDefault("account.initial_balance", 1000)

	v.SetDefault("log.level", "info")

	v.SetDefault("rounds.timer_seconds", 60)
	v.SetDefault("rounds.reveal_delay", "2s")
	v.SetDefault("rounds.closing_threshold", "5s")
	v.SetDefault("rounds.max_event_payout", 12_000_000)
	v.SetDefault("rounds.min_stake", 1)
	v.SetDefault("rounds.default_variant", "roulette")

	v.SetDefault("leaderboard.coverage_threshold", 0.8)
	v.SetDefault("leaderboard.hedge_tolerance", 0.1)

	v.SetDefault("revenue.tiers", map[string]float64{"basic": 1, "premium": 2})

	v.SetDefault("audit.stake_threshold", 1_000_000)
	v.SetDefault("audit.win_threshold", 5_000_000)
}

// Validate checks settings that would break the round lifecycle.
func (c *Config) Validate() error {
	if c.Rounds.TimerSeconds <= 0 {
		return errors.New("rounds.timer_seconds must be positive")
	}
	if c.Rounds.MaxEventPayout <= 0 {
		return errors.New("rounds.max_event_payout must be positive")
	}
	if c.Rounds.MinStake < 1 {
		return errors.New("rounds.min_stake must be at least 1")
	}
	// Stakes must stop before the reveal notice goes out.
	if c.Rounds.RevealDelay >= c.Rounds.ClosingThreshold {
		return fmt.Errorf("rounds.reveal_delay (%s) must be shorter than rounds.closing_threshold (%s)",
			c.Rounds.RevealDelay, c.Rounds.ClosingThreshold)
	}
	if c.Account.InitialBalance < 0 {
		return errors.New("account.initial_balance must not be negative")
	}
	if c.Leaderboard.CoverageThreshold <= 0 || c.Leaderboard.CoverageThreshold > 1 {
		return errors.New("leaderboard.coverage_threshold must be in (0, 1]")
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}

// RevenuePercent returns the owner share for a chat tier, falling back to "basic".
func (c *Config) RevenuePercent(tier string) float64 {
	if p, ok := c.Revenue.Tiers[tier]; ok {
		return p
	}
	return c.Revenue.Tiers["basic"]
}
