package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"price-move-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	State     StateConfig     `mapstructure:"state"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Price     PriceConfig     `mapstructure:"price"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Access    AccessConfig    `mapstructure:"access"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StateConfig selects where the monitor document lives.
type StateConfig struct {
	Backend   string        `mapstructure:"backend"`
	DataDir   string        `mapstructure:"data_dir"`
	FileName  string        `mapstructure:"file_name"`
	Namespace string        `mapstructure:"namespace"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the redis state backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MonitorConfig governs the monitor lifecycle.
type MonitorConfig struct {
	Window            time.Duration `mapstructure:"window"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	JitterPct         float64       `mapstructure:"jitter_pct"`
	Concurrency       int           `mapstructure:"concurrency"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	MaxPerUser        int           `mapstructure:"max_per_user"`
	BaselineRetryBase time.Duration `mapstructure:"baseline_retry_base"`
	BaselineRetryMax  time.Duration `mapstructure:"baseline_retry_max"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// SchedulerConfig governs tick behaviour shared by all monitors.
type SchedulerConfig struct {
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PriceConfig selects and tunes the price provider.
type PriceConfig struct {
	Provider       string          `mapstructure:"provider"`
	BaseURL        string          `mapstructure:"base_url"`
	ChainID        string          `mapstructure:"chain_id"`
	MaxAttempts    int             `mapstructure:"max_attempts"`
	RetryBase      time.Duration   `mapstructure:"retry_base"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	UserAgent      string          `mapstructure:"user_agent"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
}

// ChainlinkConfig maps tokens to on-chain aggregator feeds.
type ChainlinkConfig struct {
	RPCURL string            `mapstructure:"rpc_url"`
	Feeds  map[string]string `mapstructure:"feeds"`
}

// AlertingConfig defines alert delivery.
type AlertingConfig struct {
	Channel     string         `mapstructure:"channel"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	BackoffBase time.Duration  `mapstructure:"backoff_base"`
	BackoffMax  time.Duration  `mapstructure:"backoff_max"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig targets a generic JSON webhook.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// TelegramConfig describes the Telegram Bot API transport.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// AccessConfig configures who may issue commands.
type AccessConfig struct {
	Mode           string   `mapstructure:"mode"`
	AllowedUserIDs []string `mapstructure:"allowed_user_ids"`
	AdminUserIDs   []string `mapstructure:"admin_user_ids"`
}

// RateLimitConfig bounds per-caller command admission.
type RateLimitConfig struct {
	PerMinute    int           `mapstructure:"per_minute"`
	IdleEviction time.Duration `mapstructure:"idle_eviction"`
}

// HTTPConfig configures the health and command surface.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// envAliases keeps the historical variable names working next to the prefixed ones.
var envAliases = map[string]string{
	"alerting.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"access.mode":                 "TELEGRAM_MODE",
	"access.allowed_user_ids":     "ALLOWED_USER_IDS",
	"access.admin_user_ids":       "TELEGRAM_ADMIN_IDS",
	"state.data_dir":              "DATA_DIR",
	"logging.level":               "LOG_LEVEL",
	"monitor.max_per_user":        "MAX_MONITORS_PER_USER",
	"rate_limit.per_minute":       "RATE_LIMIT_PER_MINUTE",
	"alerting.webhook.url":        "WEBHOOK_URL",
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PRICEALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func bindAliases(v *viper.Viper) error {
	for key, alias := range envAliases {
		prefixed := "PRICEALERTS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricealerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.data_dir", "./data")
	v.SetDefault("state.file_name", "monitors.json")
	v.SetDefault("state.namespace", "default")
	v.SetDefault("state.debounce", "500ms")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "pricealerts:monitors")

	v.SetDefault("monitor.window", "24h")
	v.SetDefault("monitor.poll_interval", "30s")
	v.SetDefault("monitor.jitter_pct", 0.1)
	v.SetDefault("monitor.concurrency", 8)
	v.SetDefault("monitor.fetch_timeout", "45s")
	v.SetDefault("monitor.max_per_user", 10)
	v.SetDefault("monitor.baseline_retry_base", "5s")
	v.SetDefault("monitor.baseline_retry_max", "30s")
	v.SetDefault("monitor.start_timeout", "30s")
	v.SetDefault("monitor.sweep_interval", "1h")

	v.SetDefault("scheduler.advisory_lock_key", int64(0))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("price.provider", "dexscreener")
	v.SetDefault("price.base_url", "https://api.dexscreener.com")
	v.SetDefault("price.chain_id", "solana")
	v.SetDefault("price.max_attempts", 5)
	v.SetDefault("price.retry_base", "1s")
	v.SetDefault("price.request_timeout", "10s")
	v.SetDefault("price.user_agent", "pricealerts/1.0")
	v.SetDefault("price.chainlink.rpc_url", "")

	v.SetDefault("alerting.channel", "console")
	v.SetDefault("alerting.max_attempts", 3)
	v.SetDefault("alerting.backoff_base", "1s")
	v.SetDefault("alerting.backoff_max", "60s")
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.webhook.url", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("access.mode", "private")
	v.SetDefault("access.allowed_user_ids", []string{})
	v.SetDefault("access.admin_user_ids", []string{})

	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.idle_eviction", "1h")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// ResolveInterval returns either the CLI override or the configured poll interval.
func (c *Config) ResolveInterval(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return c.Monitor.PollInterval
}
