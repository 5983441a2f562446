package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// State backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Alert channels.
const (
	ChannelConsole  = "console"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

// Price providers.
const (
	ProviderDexScreener = "dexscreener"
	ProviderChainlink   = "chainlink"
)

// Validate performs sanity checks shared by every command.
func (c *Config) Validate() error {
	if c.Monitor.Window <= 0 {
		return errors.New("monitor.window must be greater than zero")
	}
	if c.Monitor.PollInterval <= 0 {
		return errors.New("monitor.poll_interval must be greater than zero")
	}
	if c.Monitor.JitterPct < 0 || c.Monitor.JitterPct >= 1 {
		return fmt.Errorf("monitor.jitter_pct must be in [0,1), got %v", c.Monitor.JitterPct)
	}
	if c.Monitor.Concurrency < 1 {
		return errors.New("monitor.concurrency must be >= 1")
	}
	if c.Monitor.MaxPerUser < 1 {
		return errors.New("monitor.max_per_user must be >= 1")
	}
	if c.RateLimit.PerMinute < 1 {
		return errors.New("rate_limit.per_minute must be >= 1")
	}
	if c.Alerting.MaxAttempts < 1 {
		return errors.New("alerting.max_attempts must be >= 1")
	}
	if c.State.Debounce < 0 {
		return errors.New("state.debounce cannot be negative")
	}

	if err := c.validateState(); err != nil {
		return err
	}
	if err := c.validatePrice(); err != nil {
		return err
	}
	return c.validateAlerting()
}

func (c *Config) validateState() error {
	switch strings.ToLower(c.State.Backend) {
	case BackendFile:
		if c.State.DataDir == "" || c.State.FileName == "" {
			return errors.New("state.data_dir and state.file_name are required for the file backend")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend must be one of file, postgres, redis; got %q", c.State.Backend)
	}
	return nil
}

func (c *Config) validatePrice() error {
	switch strings.ToLower(c.Price.Provider) {
	case ProviderDexScreener:
		if c.Price.MaxAttempts < 1 {
			return errors.New("price.max_attempts must be >= 1")
		}
	case ProviderChainlink:
		if c.Price.Chainlink.RPCURL == "" {
			return errors.New("price.chainlink.rpc_url is required for the chainlink provider")
		}
		if len(c.Price.Chainlink.Feeds) == 0 {
			return errors.New("price.chainlink.feeds must map at least one token")
		}
	default:
		return fmt.Errorf("price.provider must be dexscreener or chainlink; got %q", c.Price.Provider)
	}
	return nil
}

func (c *Config) validateAlerting() error {
	switch strings.ToLower(c.Alerting.Channel) {
	case ChannelConsole:
	case ChannelWebhook:
		u, err := url.Parse(c.Alerting.Webhook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("alerting.webhook.url is not a valid URL: %q", c.Alerting.Webhook.URL)
		}
	case ChannelTelegram:
		if c.Alerting.Telegram.BotToken == "" {
			return errors.New("alerting.telegram.bot_token is required for the telegram channel")
		}
	default:
		return fmt.Errorf("alerting.channel must be console, webhook or telegram; got %q", c.Alerting.Channel)
	}
	return nil
}

// ValidateServe checks the settings only the multi-user service needs.
// Collaborators call it before wiring the command surface.
func (c *Config) ValidateServe() error {
	switch strings.ToLower(c.Access.Mode) {
	case "private":
		if len(c.Access.AllowedUserIDs) == 0 {
			return errors.New("access.allowed_user_ids is required in private mode; set it or switch access.mode to public or community")
		}
	case "public", "community":
	default:
		return fmt.Errorf("access.mode must be private, public or community; got %q", c.Access.Mode)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http.addr is required when http.enabled")
	}
	return nil
}

// ValidateWatch checks the settings the single-token watch mode needs.
func (c *Config) ValidateWatch() error {
	if strings.EqualFold(c.Alerting.Channel, ChannelTelegram) && c.Alerting.Telegram.ChatID == "" {
		return errors.New("alerting.telegram.chat_id is required for watch mode")
	}
	return nil
}
