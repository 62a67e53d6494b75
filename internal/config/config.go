package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// Supported values for the enum-like settings.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "pgx"
	DatabaseMemory   = "memory"

	NotifyLog     = "log"
	NotifyWebhook = "webhook"
	NotifyKafka   = "kafka"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int `yaml:"port"`

	// Env is development or production. Production requires the shared
	// secret on the stats endpoint.
	Env string `yaml:"env"`

	// CronSecret is the bearer token the scheduler presents to the trigger
	// endpoint. When empty the trigger endpoint fails closed.
	CronSecret string `yaml:"cronSecret"`

	// JWTSecret verifies owner tokens on the toggle endpoint (HS256).
	JWTSecret string `yaml:"jwtSecret"`

	DatabaseDriver string `yaml:"databaseDriver"`
	DatabaseURL    string `yaml:"databaseUrl"`

	// RedisURL enables the stats cache when set.
	RedisURL      string        `yaml:"redisUrl"`
	StatsCacheTTL time.Duration `yaml:"statsCacheTtl"`

	NotifyDriver       string   `yaml:"notifyDriver"`
	NotifyWebhookURL   string   `yaml:"notifyWebhookUrl"`
	NotifyWebhookToken string   `yaml:"notifyWebhookToken"`
	KafkaBrokers       []string `yaml:"kafkaBrokers"`
	KafkaTopic         string   `yaml:"kafkaTopic"`

	// ListingFeedURL is the websocket endpoint of the listing event stream.
	// Ingest is disabled when empty.
	ListingFeedURL string `yaml:"listingFeedUrl"`

	// RunInterval enables the in-process timer when positive.
	RunInterval time.Duration `yaml:"runInterval"`
	BatchLimit  int           `yaml:"batchLimit"`

	LifetimeDays  int    `yaml:"lifetimeDays"`
	GraceDays     int    `yaml:"graceDays"`
	RetentionMode string `yaml:"retentionMode"`
}

func defaults() *Config {
	return &Config{
		Port:           3000,
		Env:            EnvDevelopment,
		DatabaseDriver: DatabaseSQLite,
		DatabaseURL:    "lifecycle.db",
		StatsCacheTTL:  30 * time.Second,
		NotifyDriver:   NotifyLog,
		KafkaTopic:     "listing-notifications",
		BatchLimit:     500,
		LifetimeDays:   60,
		GraceDays:      7,
		RetentionMode:  string(domain.RetentionArchive),
	}
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Policy builds the lifecycle policy from the configured constants.
func (c *Config) Policy() (domain.LifecyclePolicy, error) {
	p := domain.DefaultPolicy()
	p.LifetimeDays = c.LifetimeDays
	p.GracePeriodDays = c.GraceDays
	p.Retention = domain.RetentionMode(c.RetentionMode)
	if err := p.Validate(); err != nil {
		return domain.LifecyclePolicy{}, err
	}
	return p, nil
}

// Load reads configuration from environment variables with sensible defaults.
// When CONFIG_FILE is set, that YAML file is applied first and environment
// variables override it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString(&c.Env, "APP_ENV")
	envString(&c.CronSecret, "EXPIRATION_CRON_SECRET")
	envString(&c.JWTSecret, "AUTH_JWT_SECRET")
	envString(&c.DatabaseDriver, "DATABASE_DRIVER")
	envString(&c.DatabaseURL, "DATABASE_URL")
	envString(&c.RedisURL, "REDIS_URL")
	envString(&c.NotifyDriver, "NOTIFY_DRIVER")
	envString(&c.NotifyWebhookURL, "NOTIFY_WEBHOOK_URL")
	envString(&c.NotifyWebhookToken, "NOTIFY_WEBHOOK_TOKEN")
	envString(&c.KafkaTopic, "KAFKA_TOPIC")
	envString(&c.ListingFeedURL, "LISTING_FEED_URL")
	envString(&c.RetentionMode, "LISTING_RETENTION_MODE")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}

	return errors.Join(
		envInt(&c.Port, "PORT"),
		envInt(&c.BatchLimit, "BATCH_LIMIT"),
		envInt(&c.LifetimeDays, "LISTING_LIFETIME_DAYS"),
		envInt(&c.GraceDays, "LISTING_GRACE_DAYS"),
		envDuration(&c.StatsCacheTTL, "STATS_CACHE_TTL"),
		envDuration(&c.RunInterval, "RUN_INTERVAL"),
	)
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid APP_ENV %q", c.Env)
	}

	switch c.DatabaseDriver {
	case DatabaseSQLite, DatabasePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %s", c.DatabaseDriver)
		}
	case DatabaseMemory:
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.NotifyDriver {
	case NotifyLog:
	case NotifyWebhook:
		if c.NotifyWebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required for the webhook notifier")
		}
	case NotifyKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka notifier")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_DRIVER %q", c.NotifyDriver)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.BatchLimit < 0 {
		return fmt.Errorf("BATCH_LIMIT must not be negative")
	}
	if c.RunInterval < 0 {
		return fmt.Errorf("RUN_INTERVAL must not be negative")
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("invalid lifecycle policy: %w", err)
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
