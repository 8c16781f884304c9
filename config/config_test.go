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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  env: staging
http:
  address: ":9090"
payouts:
  default_delay_days: 10
  country_delays:
    PT: 5
stripe:
  secret_key: sk_file
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Env)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, 5, cfg.Payouts.DelayDays("pt"))
	assert.Equal(t, 10, cfg.Payouts.DelayDays("ZZ"))
	assert.Equal(t, int64(15), cfg.Payouts.PlatformFeePercent)
	assert.Equal(t, "sk_file", cfg.Stripe.SecretKey)
	assert.Len(t, cfg.Reminders.Stages, 2)
	assert.Equal(t, 25*time.Millisecond, cfg.Reminders.Pacing())
}

func TestLoadConfig_EnvSecretsWin(t *testing.T) {
	path := writeConfig(t, `
stripe:
  secret_key: sk_file
scheduler:
  allow_fallback_auth: false
`)
	t.Setenv("STRIPE_SECRET_KEY", "sk_env")
	t.Setenv("ALLOW_FALLBACK_AUTH", "true")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk_env", cfg.Stripe.SecretKey)
	assert.True(t, cfg.Scheduler.AllowFallbackAuth)
	assert.True(t, cfg.App.Production())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe.secret_key")

	cfg.Stripe.SecretKey = "sk"
	cfg.Stripe.WebhookSecret = "whsec"
	cfg.Scheduler.APIKey = "key"
	assert.NoError(t, cfg.Validate())

	cfg.Notifications.Transport = "kafka"
	assert.Error(t, cfg.Validate())
}

func TestReminderStageConfig_Durations(t *testing.T) {
	stage := Default().Reminders.Stages[0]
	assert.Equal(t, 84*time.Hour, stage.WindowFrom())
	assert.Equal(t, 108*time.Hour, stage.WindowTo())
	assert.Equal(t, 48*time.Hour, stage.MinAge())
}
