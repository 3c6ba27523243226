package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
credentials:
  username: driver@example.com
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.IntervalMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Interval())
	assert.Equal(t, 60, cfg.RetryBackoffSeconds)
	assert.Equal(t, time.Minute, cfg.Backoff())
	assert.True(t, cfg.Headless)
	assert.Equal(t, "snapshots", cfg.SnapshotDir)
	assert.Equal(t, "slots_history.json", cfg.HistoryFile)
	assert.False(t, cfg.Proxy.Enabled())
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
credentials:
  username: driver@example.com
  password: secret
proxy:
  host: 10.0.0.8
  port: 3128
  username: proxyuser
  password: proxypass
solver:
  api_key: 2captcha-key
interval_minutes: 2
retry_backoff_seconds: 15
headless: false
notifications:
  telegram:
    enabled: true
    bot_token: tok
    chat_id: "42"
  webhook:
    enabled: true
    url: https://hooks.example.com/x
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Proxy.Enabled())
	assert.Equal(t, "10.0.0.8:3128", cfg.Proxy.Server())
	assert.Equal(t, "2captcha-key", cfg.Solver.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Interval())
	assert.Equal(t, 15*time.Second, cfg.Backoff())
	assert.False(t, cfg.Headless)
	assert.True(t, cfg.Notifications.Telegram.Enabled)
	assert.Equal(t, "tok", cfg.Notifications.Telegram.BotToken)
	assert.True(t, cfg.Notifications.Webhook.Enabled)
}

func TestEnvFillsBlanksOnly(t *testing.T) {
	t.Setenv("PDC_USERNAME", "env-user")
	t.Setenv("PDC_PASSWORD", "env-pass")
	t.Setenv("TWOCAPTCHA_API_KEY", "env-key")

	path := writeConfig(t, `
credentials:
  username: file-user
  password: file-pass
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values win; the env only fills what the file left empty.
	assert.Equal(t, "file-user", cfg.Credentials.Username)
	assert.Equal(t, "file-pass", cfg.Credentials.Password)
	assert.Equal(t, "env-key", cfg.Solver.APIKey)
}

func TestEnvOnlyStartup(t *testing.T) {
	t.Setenv("PDC_USERNAME", "env-user")
	t.Setenv("PDC_PASSWORD", "env-pass")
	t.Setenv("PROXY_HOST", "10.0.0.9")
	t.Setenv("PROXY_PORT", "8080")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-user", cfg.Credentials.Username)
	assert.Equal(t, "10.0.0.9:8080", cfg.Proxy.Server())
}

func TestValidateMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
credentials:
  username: driver@example.com
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestValidateBadInterval(t *testing.T) {
	cfg := &Config{
		Credentials:     Credentials{Username: "u", Password: "p"},
		IntervalMinutes: -1,
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateProxyNeedsPort(t *testing.T) {
	cfg := &Config{
		Credentials:     Credentials{Username: "u", Password: "p"},
		IntervalMinutes: 5,
		Proxy:           Proxy{Host: "10.0.0.8"},
	}
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
