// Package config loads service configuration with viper.
//
// Priority (highest to lowest):
//  1. Environment variables with the LEDGER_ prefix (e.g. LEDGER_DATABASE_DSN)
//  2. config.toml
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/ledger-engine/billing"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/store/sqlstore"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Log      logger.Config
	HTTP     HTTPConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Audit    AuditConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig selects the SQL dialect and pool sizing.
type DatabaseConfig struct {
	Driver          string // sqlite3 | postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
	AutoMigrate     bool
}

// BillingConfig maps onto billing.Policy.
type BillingConfig struct {
	InvoicePrefix     string
	SequenceBase      int64
	PeriodFormat      string
	EditWindow        time.Duration
	EnforceEditWindow bool
	StrictPricing     bool
	CurrencyScale     int32
	DefaultTaxRate    string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	RequestTimeout   time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

// RedisConfig enables the shared idempotency-key store.
type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// KafkaConfig enables post-commit event publishing.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// AuditConfig schedules periodic ledger verification.
type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ledger-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "ledger.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.lock_timeout", sqlstore.DefaultLockTimeout)
	v.SetDefault("database.auto_migrate", true)

	p := billing.DefaultPolicy()
	v.SetDefault("billing.invoice_prefix", p.InvoicePrefix)
	v.SetDefault("billing.sequence_base", p.SequenceBase)
	v.SetDefault("billing.period_format", p.PeriodLayout)
	v.SetDefault("billing.edit_window", p.EditWindow)
	v.SetDefault("billing.enforce_edit_window", p.EnforceEditWindow)
	v.SetDefault("billing.strict_pricing", p.StrictPricing)
	v.SetDefault("billing.currency_scale", p.CurrencyScale)
	v.SetDefault("billing.default_tax_rate", p.DefaultTaxRate.String())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.max_body_size", 1<<20)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "ledger.events")

	v.SetDefault("audit.interval", time.Hour)
}

// Load reads path (or config.toml from the search paths when empty) and
// the LEDGER_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ledger-engine")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars only.
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LockTimeout:     v.GetDuration("database.lock_timeout"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Billing: BillingConfig{
			InvoicePrefix:     v.GetString("billing.invoice_prefix"),
			SequenceBase:      v.GetInt64("billing.sequence_base"),
			PeriodFormat:      v.GetString("billing.period_format"),
			EditWindow:        v.GetDuration("billing.edit_window"),
			EnforceEditWindow: v.GetBool("billing.enforce_edit_window"),
			StrictPricing:     v.GetBool("billing.strict_pricing"),
			CurrencyScale:     v.GetInt32("billing.currency_scale"),
			DefaultTaxRate:    v.GetString("billing.default_tax_rate"),
		},
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			RequestTimeout:   v.GetDuration("http.request_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Redis: RedisConfig{
			Enabled:        v.GetBool("redis.enabled"),
			Addr:           v.GetString("redis.addr"),
			Password:       v.GetString("redis.password"),
			DB:             v.GetInt("redis.db"),
			IdempotencyTTL: v.GetDuration("redis.idempotency_ttl"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Audit: AuditConfig{
			Enabled:  v.GetBool("audit.enabled"),
			Interval: v.GetDuration("audit.interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := sqlstore.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("invalid config: database.dsn is required")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis.addr is required when redis is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("invalid config: kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("invalid config: audit.interval must be positive")
	}
	policy, err := c.Policy()
	if err != nil {
		return err
	}
	return policy.Validate()
}

// Policy converts the billing section into a billing.Policy.
func (c *Config) Policy() (billing.Policy, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Billing.DefaultTaxRate))
	if err != nil {
		return billing.Policy{}, fmt.Errorf("invalid config: billing.default_tax_rate: %w", err)
	}
	return billing.Policy{
		InvoicePrefix:     c.Billing.InvoicePrefix,
		SequenceBase:      c.Billing.SequenceBase,
		PeriodLayout:      c.Billing.PeriodFormat,
		EditWindow:        c.Billing.EditWindow,
		EnforceEditWindow: c.Billing.EnforceEditWindow,
		StrictPricing:     c.Billing.StrictPricing,
		CurrencyScale:     c.Billing.CurrencyScale,
		DefaultTaxRate:    rate,
	}, nil
}

// Store converts the database section into sqlstore options.
func (c *Config) Store() sqlstore.Config {
	return sqlstore.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		LockTimeout:     c.Database.LockTimeout,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
