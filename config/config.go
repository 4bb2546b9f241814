/*
config.go - Process configuration

PURPOSE:
  Loads configuration for the server and the admin CLI. Values come from, in
  increasing priority: defaults below, an optional YAML file, a .env file,
  and ALLOC_* environment variables (ALLOC_SERVER_PORT, ALLOC_AUTH_JWT_SECRET...).

USAGE:
  cfg, err := config.Load("")         // defaults + env
  cfg, err := config.Load("app.yaml") // plus a file

SEE ALSO:
  - cmd/server/main.go: flag overrides
  - logging/logger.go: consumes Log
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Mail      MailConfig      `mapstructure:"mail"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Events    EventsConfig    `mapstructure:"events"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the store. Path "memory" uses the in-memory store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig: Format is "console" or "json".
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SMSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	SenderID string `mapstructure:"sender_id"`
}

// EventsConfig lists the publishers fed by the outbox relay.
// Drivers: log, redis, pusher.
type EventsConfig struct {
	Drivers []string     `mapstructure:"drivers"`
	Redis   RedisConfig  `mapstructure:"redis"`
	Pusher  PusherConfig `mapstructure:"pusher"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type PusherConfig struct {
	AppID   string `mapstructure:"app_id"`
	Key     string `mapstructure:"key"`
	Secret  string `mapstructure:"secret"`
	Cluster string `mapstructure:"cluster"`
	Channel string `mapstructure:"channel"`
}

// SchedulerConfig holds wall-clock times as "HH:MM" in Timezone.
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timezone       string        `mapstructure:"timezone"`
	ExpiryAt       string        `mapstructure:"expiry_at"`
	InvoiceSweepAt string        `mapstructure:"invoice_sweep_at"`
	BulkInvoiceDay int           `mapstructure:"bulk_invoice_day"`
	BulkInvoiceAt  string        `mapstructure:"bulk_invoice_at"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

// Load reads configuration. An empty path skips the file; a path that does
// not exist is not an error either.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ALLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	// Database
	v.SetDefault("database.path", "allocation.db")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Auth
	v.SetDefault("auth.jwt_secret", "dev-secret-change-me-please")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	// Mail
	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@campus.local")

	// SMS
	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.region", "ap-south-1")

	// Events
	v.SetDefault("events.drivers", []string{"log"})
	v.SetDefault("events.redis.url", "redis://localhost:6379/0")
	v.SetDefault("events.redis.channel", "resource-state")
	v.SetDefault("events.pusher.cluster", "ap2")
	v.SetDefault("events.pusher.channel", "live-resource-updates")

	// Scheduler
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.expiry_at", "00:05")
	v.SetDefault("scheduler.invoice_sweep_at", "00:15")
	v.SetDefault("scheduler.bulk_invoice_day", 1)
	v.SetDefault("scheduler.bulk_invoice_at", "06:00")
	v.SetDefault("scheduler.outbox_interval", 10*time.Second)
}

// Validate checks the values the process cannot start without.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 16 characters")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535")
	}
	if d := c.Scheduler.BulkInvoiceDay; d < 1 || d > 28 {
		return fmt.Errorf("config: scheduler.bulk_invoice_day must be between 1 and 28")
	}
	for _, at := range []string{c.Scheduler.ExpiryAt, c.Scheduler.InvoiceSweepAt, c.Scheduler.BulkInvoiceAt} {
		if _, _, err := ParseClock(at); err != nil {
			return err
		}
	}
	for _, d := range c.Events.Drivers {
		switch d {
		case "log", "redis", "pusher":
		default:
			return fmt.Errorf("config: unknown events driver %q", d)
		}
	}
	return nil
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute uint, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid time of day %q, want HH:MM", s)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// Location resolves the scheduler timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}
