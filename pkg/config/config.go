package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Portal endpoints
const (
	// LoginURL is the CAPTCHA-protected authentication entry point
	LoginURL = "https://auth.permisdeconduire.gouv.fr/realms/formation/protocol/openid-connect/auth?client_id=formation_1&redirect_uri=https%3A%2F%2Fpro.permisdeconduire.gouv.fr%2Foidc-callback&response_type=code&scope=openid"

	// PortalURL is the authenticated portal root
	PortalURL = "https://pro.permisdeconduire.gouv.fr/"

	// AuthDomain marks the login realm; landing back on it means the
	// session is gone
	AuthDomain = "auth."
)

// Credentials holds the portal login
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Proxy describes an alternate network egress identity for monitoring
type Proxy struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether a proxy has been configured at all
func (p Proxy) Enabled() bool {
	return p.Host != ""
}

// Server returns the proxy endpoint in host:port form
func (p Proxy) Server() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Solver holds the CAPTCHA-solving service configuration
type Solver struct {
	APIKey string `yaml:"api_key"`
}

// EmailChannel configures the SendGrid notification channel
type EmailChannel struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	From      string `yaml:"from"`
	Recipient string `yaml:"recipient"`
}

// TelegramChannel configures the Telegram bot notification channel
type TelegramChannel struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// WebhookChannel configures the generic JSON webhook channel
type WebhookChannel struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Notifications groups the per-channel configs; each is independently enabled
type Notifications struct {
	Email    EmailChannel    `yaml:"email"`
	Telegram TelegramChannel `yaml:"telegram"`
	Webhook  WebhookChannel  `yaml:"webhook"`
}

// Config holds the application configuration
type Config struct {
	Credentials         Credentials   `yaml:"credentials"`
	Proxy               Proxy         `yaml:"proxy"`
	Solver              Solver        `yaml:"solver"`
	IntervalMinutes     int           `yaml:"interval_minutes"`
	RetryBackoffSeconds int           `yaml:"retry_backoff_seconds"`
	Headless            bool          `yaml:"headless"`
	SnapshotDir         string        `yaml:"snapshot_dir"`
	HistoryFile         string        `yaml:"history_file"`
	Notifications       Notifications `yaml:"notifications"`
}

// Load reads the YAML config file and fills blanks from the environment.
// File values win over env vars.
func Load(path string) (*Config, error) {
	cfg := &Config{
		IntervalMinutes:     5,
		RetryBackoffSeconds: 60,
		Headless:            true,
		SnapshotDir:         "snapshots",
		HistoryFile:         "slots_history.json",
	}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEmpty(&c.Credentials.Username, "PDC_USERNAME")
	setIfEmpty(&c.Credentials.Password, "PDC_PASSWORD")
	setIfEmpty(&c.Solver.APIKey, "TWOCAPTCHA_API_KEY")
	setIfEmpty(&c.Proxy.Host, "PROXY_HOST")
	setIfEmpty(&c.Proxy.Username, "PROXY_USERNAME")
	setIfEmpty(&c.Proxy.Password, "PROXY_PASSWORD")
	setIfEmpty(&c.Notifications.Email.APIKey, "SENDGRID_API_KEY")
	setIfEmpty(&c.Notifications.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")

	if c.Proxy.Port == 0 {
		if v := os.Getenv("PROXY_PORT"); v != "" {
			fmt.Sscanf(v, "%d", &c.Proxy.Port)
		}
	}
}

func setIfEmpty(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

// Validate checks that the parts required for startup are present
func (c *Config) Validate() error {
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		return fmt.Errorf("credentials are incomplete: username and password are required")
	}
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("interval_minutes must be positive, got %d", c.IntervalMinutes)
	}
	if c.Proxy.Enabled() && c.Proxy.Port == 0 {
		return fmt.Errorf("proxy host set without a port")
	}
	return nil
}

// Interval returns the pause between poll cycles
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Backoff returns the shortened pause used after a transient fetch failure
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}
