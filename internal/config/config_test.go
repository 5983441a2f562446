package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Window != 24*time.Hour {
		t.Errorf("window = %s", cfg.Monitor.Window)
	}
	if cfg.Monitor.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MaxPerUser != 10 || cfg.RateLimit.PerMinute != 20 {
		t.Errorf("limits = %d/%d", cfg.Monitor.MaxPerUser, cfg.RateLimit.PerMinute)
	}
	if cfg.State.Backend != BackendFile || cfg.Price.Provider != ProviderDexScreener || cfg.Alerting.Channel != ChannelConsole {
		t.Errorf("unexpected backends %q %q %q", cfg.State.Backend, cfg.Price.Provider, cfg.Alerting.Channel)
	}
	if cfg.Access.Mode != "private" {
		t.Errorf("access mode = %q", cfg.Access.Mode)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"monitor:",
		"  poll_interval: 15s",
		"access:",
		"  mode: community",
		"  admin_user_ids: \"10,11\"",
	}, "\n"))
	t.Setenv("PRICEALERTS_MONITOR_MAX_PER_USER", "3")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("ALLOWED_USER_IDS", "1,2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MaxPerUser != 3 {
		t.Errorf("max per user = %d", cfg.Monitor.MaxPerUser)
	}
	if cfg.RateLimit.PerMinute != 7 {
		t.Errorf("rate limit = %d", cfg.RateLimit.PerMinute)
	}
	if len(cfg.Access.AllowedUserIDs) != 2 || len(cfg.Access.AdminUserIDs) != 2 {
		t.Errorf("ids = %v / %v", cfg.Access.AllowedUserIDs, cfg.Access.AdminUserIDs)
	}
	if cfg.ResolveInterval(0) != 15*time.Second || cfg.ResolveInterval(time.Second) != time.Second {
		t.Errorf("ResolveInterval ignored override or config")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "state:\n  backend: mongo\n"))
	if err == nil || !strings.Contains(err.Error(), "state.backend") {
		t.Fatalf("expected state.backend error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero window", func(c *Config) { c.Monitor.Window = 0 }, "monitor.window"},
		{"jitter", func(c *Config) { c.Monitor.JitterPct = 1 }, "jitter_pct"},
		{"postgres without dsn", func(c *Config) { c.State.Backend = BackendPostgres }, "database.dsn"},
		{"chainlink without rpc", func(c *Config) { c.Price.Provider = ProviderChainlink }, "rpc_url"},
		{"telegram without token", func(c *Config) { c.Alerting.Channel = ChannelTelegram }, "bot_token"},
		{"bad channel", func(c *Config) { c.Alerting.Channel = "pager" }, "alerting.channel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := Config{Access: AccessConfig{Mode: "private"}, HTTP: HTTPConfig{Enabled: true, Addr: ":8080"}}
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("private mode without allow list must fail")
	}
	cfg.Access.AllowedUserIDs = []string{"1"}
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Access.Mode = "open"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("unknown mode must fail")
	}
	cfg.Access.Mode = "public"
	cfg.HTTP.Addr = ""
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("missing http.addr must fail")
	}
}

func TestValidateWatch(t *testing.T) {
	cfg := Config{Alerting: AlertingConfig{Channel: ChannelTelegram}}
	if err := cfg.ValidateWatch(); err == nil {
		t.Fatal("telegram watch without chat id must fail")
	}
	cfg.Alerting.Telegram.ChatID = "42"
	if err := cfg.ValidateWatch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
