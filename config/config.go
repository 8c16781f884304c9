package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvProduction = "production"

type Config struct {
	App           AppConfig          `yaml:"app"`
	HTTP          HTTPConfig         `yaml:"http"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	Stripe        StripeConfig       `yaml:"stripe"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Payouts       PayoutConfig       `yaml:"payouts"`
	Reminders     ReminderConfig     `yaml:"reminders"`
	Webhooks      WebhookConfig      `yaml:"webhooks"`
	Log           LogConfig          `yaml:"log"`
}

type AppConfig struct {
	Env     string `yaml:"env"`
	BaseURL string `yaml:"base_url"`
	Version string `yaml:"version"`
}

func (a AppConfig) Production() bool {
	return strings.EqualFold(a.Env, EnvProduction)
}

type HTTPConfig struct {
	Address         string `yaml:"address"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type StripeConfig struct {
	SecretKey             string `yaml:"secret_key"`
	WebhookSecret         string `yaml:"webhook_secret"`
	ConnectWebhookSecret  string `yaml:"connect_webhook_secret"`
	IdentityWebhookSecret string `yaml:"identity_webhook_secret"`
	// APIBase overrides the API host, e.g. for stripe-mock.
	APIBase string `yaml:"api_base"`
}

type SchedulerConfig struct {
	CurrentSigningKey string `yaml:"current_signing_key"`
	NextSigningKey    string `yaml:"next_signing_key"`
	APIKey            string `yaml:"api_key"`
	AllowFallbackAuth bool   `yaml:"allow_fallback_auth"`
	UserAgent         string `yaml:"user_agent"`
}

type NotificationConfig struct {
	// Transport is one of "direct", "kafka" or "log".
	Transport string `yaml:"transport"`
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type MonitoringConfig struct {
	Heartbeats map[string]string `yaml:"heartbeats"`
	TimeoutMS  int               `yaml:"timeout_ms"`
}

type PayoutConfig struct {
	CountryDelays      map[string]int `yaml:"country_delays"`
	DefaultDelayDays   int            `yaml:"default_delay_days"`
	PlatformFeePercent int64          `yaml:"platform_fee_percent"`
	Concurrency        int            `yaml:"concurrency"`
}

// DelayDays returns the cooling-off period for an expert's country.
func (p PayoutConfig) DelayDays(country string) int {
	if d, ok := p.CountryDelays[strings.ToUpper(country)]; ok {
		return d
	}
	return p.DefaultDelayDays
}

type ReminderStageConfig struct {
	Stage        string  `yaml:"stage"`
	Workflow     string  `yaml:"workflow"`
	WindowFromH  float64 `yaml:"window_from_hours"`
	WindowToH    float64 `yaml:"window_to_hours"`
	MinAgeHours  float64 `yaml:"min_age_hours"`
	ReminderType string  `yaml:"reminder_type"`
}

type ReminderConfig struct {
	Stages   []ReminderStageConfig `yaml:"stages"`
	PacingMS int                   `yaml:"pacing_ms"`
}

type WebhookConfig struct {
	RetryAttempts    int `yaml:"retry_attempts"`
	RetryBaseMS      int `yaml:"retry_base_ms"`
	EventClaimTTLMin int `yaml:"event_claim_ttl_minutes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// secrets are read from the environment and override the file.
type secrets struct {
	AppEnv                string `envconfig:"APP_ENV"`
	DatabaseURL           string `envconfig:"DATABASE_URL"`
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeConnectSecret   string `envconfig:"STRIPE_CONNECT_WEBHOOK_SECRET"`
	StripeIdentitySecret  string `envconfig:"STRIPE_IDENTITY_WEBHOOK_SECRET"`
	QStashCurrentKey      string `envconfig:"QSTASH_CURRENT_SIGNING_KEY"`
	QStashNextKey         string `envconfig:"QSTASH_NEXT_SIGNING_KEY"`
	CronAPIKey            string `envconfig:"CRON_API_KEY"`
	AllowFallbackAuth     *bool  `envconfig:"ALLOW_FALLBACK_AUTH"`
	NovuSecretKey         string `envconfig:"NOVU_SECRET_KEY"`
	NotificationTransport string `envconfig:"NOTIFICATION_TRANSPORT"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var env secrets
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applySecrets(env)

	return cfg, nil
}

// Default returns the settings used when the file leaves a value out.
func Default() *Config {
	return &Config{
		App:  AppConfig{Env: "development", Version: "dev"},
		HTTP: HTTPConfig{Address: ":8080", ShutdownSeconds: 5},
		Kafka: KafkaConfig{
			NotificationsTopic: "settlement.notifications",
			GroupID:            "settlement-notifier",
		},
		Scheduler: SchedulerConfig{UserAgent: "Upstash-QStash"},
		Notifications: NotificationConfig{
			Transport: "log",
			BaseURL:   "https://eu.api.novu.co",
			TimeoutMS: 10000,
		},
		Monitoring: MonitoringConfig{TimeoutMS: 5000},
		Payouts: PayoutConfig{
			CountryDelays: map[string]int{
				"PT": 7, "ES": 7, "FR": 7, "DE": 7, "IT": 7, "NL": 7, "BE": 7, "IE": 7,
				"GB": 7, "US": 2, "CA": 7, "AU": 3, "BR": 30, "MX": 7, "JP": 4,
			},
			DefaultDelayDays:   7,
			PlatformFeePercent: 15,
			Concurrency:        5,
		},
		Reminders: ReminderConfig{
			Stages: []ReminderStageConfig{
				{Stage: "gentle", WindowFromH: 84, WindowToH: 108, MinAgeHours: 48, ReminderType: "gentle"},
				{Stage: "urgent", WindowFromH: 12, WindowToH: 36, MinAgeHours: 120, ReminderType: "urgent"},
			},
			PacingMS: 25,
		},
		Webhooks: WebhookConfig{RetryAttempts: 3, RetryBaseMS: 1000, EventClaimTTLMin: 72 * 60},
		Log:      LogConfig{Level: "info"},
	}
}

func (c *Config) applySecrets(env secrets) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.App.Env, env.AppEnv)
	set(&c.Database.URL, env.DatabaseURL)
	set(&c.Stripe.SecretKey, env.StripeSecretKey)
	set(&c.Stripe.WebhookSecret, env.StripeWebhookSecret)
	set(&c.Stripe.ConnectWebhookSecret, env.StripeConnectSecret)
	set(&c.Stripe.IdentityWebhookSecret, env.StripeIdentitySecret)
	set(&c.Scheduler.CurrentSigningKey, env.QStashCurrentKey)
	set(&c.Scheduler.NextSigningKey, env.QStashNextKey)
	set(&c.Scheduler.APIKey, env.CronAPIKey)
	set(&c.Notifications.SecretKey, env.NovuSecretKey)
	set(&c.Notifications.Transport, env.NotificationTransport)
	if env.AllowFallbackAuth != nil {
		c.Scheduler.AllowFallbackAuth = *env.AllowFallbackAuth
	}
}

// Validate checks what the HTTP process needs before it can serve traffic.
func (c *Config) Validate() error {
	var errs []error
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("stripe.secret_key is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe.webhook_secret is required"))
	}
	if c.Scheduler.CurrentSigningKey == "" && c.Scheduler.APIKey == "" {
		errs = append(errs, errors.New("scheduler needs a signing key or an api key"))
	}
	if c.Notifications.Transport == "direct" && c.Notifications.SecretKey == "" {
		errs = append(errs, errors.New("notifications.secret_key is required for direct transport"))
	}
	if c.Notifications.Transport == "kafka" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required for kafka transport"))
	}
	if c.Payouts.PlatformFeePercent < 0 || c.Payouts.PlatformFeePercent > 100 {
		errs = append(errs, fmt.Errorf("payouts.platform_fee_percent out of range: %d", c.Payouts.PlatformFeePercent))
	}
	return errors.Join(errs...)
}

func (w WebhookConfig) RetryBase() time.Duration {
	return time.Duration(w.RetryBaseMS) * time.Millisecond
}

func (w WebhookConfig) EventClaimTTL() time.Duration {
	return time.Duration(w.EventClaimTTLMin) * time.Minute
}

func (r ReminderConfig) Pacing() time.Duration {
	return time.Duration(r.PacingMS) * time.Millisecond
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func (s ReminderStageConfig) WindowFrom() time.Duration { return hours(s.WindowFromH) }
func (s ReminderStageConfig) WindowTo() time.Duration   { return hours(s.WindowToH) }
func (s ReminderStageConfig) MinAge() time.Duration     { return hours(s.MinAgeHours) }
