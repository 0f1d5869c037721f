// Package config provides configuration management using viper.
// It supports loading from YAML files, an optional .env file and
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Bot         BotConfig         `mapstructure:"bot"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	PoolSize        int           `mapstructure:"pool_size" validate:"gt=0"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// BotConfig holds Telegram configuration. An empty token disables the bot
// and the Telegram notification sink.
type BotConfig struct {
	Token       string  `mapstructure:"token"`
	NotifyChats []int64 `mapstructure:"notify_chats"`
	Whitelist   []int64 `mapstructure:"whitelist"`
	Admins      []int64 `mapstructure:"admins"`
}

// SettlementConfig holds payout parameters.
type SettlementConfig struct {
	// PlatformAccountID is the reserved user id that collects platform fees.
	PlatformAccountID int64 `mapstructure:"platform_account_id" validate:"required"`
	// FeeBps is the platform cut of a won pot in basis points (1000 = 10%).
	FeeBps        int64         `mapstructure:"fee_bps" validate:"gte=0,lte=10000"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	SweepBatch    int           `mapstructure:"sweep_batch" validate:"gt=0"`
}

// MatchmakingConfig holds match creation limits.
type MatchmakingConfig struct {
	CodeLength int   `mapstructure:"code_length" validate:"gte=4,lte=16"`
	MinStake   int64 `mapstructure:"min_stake" validate:"gte=1"`
	// MaxStake of 0 means no upper limit.
	MaxStake int64 `mapstructure:"max_stake" validate:"gte=0"`
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotifyConfig sizes the asynchronous event buffer.
type NotifyConfig struct {
	Buffer int `mapstructure:"buffer" validate:"gt=0"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in configPath, the working directory and ./config.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, SETTLEMENT_FEE_BPS, BOT_TOKEN
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

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Matchmaking.MaxStake != 0 && c.Matchmaking.MaxStake < c.Matchmaking.MinStake {
		return fmt.Errorf("invalid config: matchmaking.max_stake %d below min_stake %d",
			c.Matchmaking.MaxStake, c.Matchmaking.MinStake)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("bot.token", "")

	v.SetDefault("settlement.platform_account_id", 1)
	v.SetDefault("settlement.fee_bps", 1000)
	v.SetDefault("settlement.sweep_interval", "30s")
	v.SetDefault("settlement.sweep_batch", 50)

	v.SetDefault("matchmaking.code_length", 6)
	v.SetDefault("matchmaking.min_stake", 1)
	v.SetDefault("matchmaking.max_stake", 0)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("notify.buffer", 256)
}

// IsChatAllowed checks if a chat ID is in the whitelist.
// An empty whitelist allows every chat.
func (c *Config) IsChatAllowed(chatID int64) bool {
	if len(c.Bot.Whitelist) == 0 {
		return true
	}
	for _, id := range c.Bot.Whitelist {
		if id == chatID {
			return true
		}
	}
	return false
}

// IsAdmin checks if a user may run admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Bot.Admins {
		if id == userID {
			return true
		}
	}
	return false
}
