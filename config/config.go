package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config struct to hold the configuration settings
type Config struct {
	Postgres      PostgresConfig      `yaml:"postgres"`
	NATS          NATSConfig          `yaml:"nats"`
	Notifications NotificationsConfig `yaml:"notifications"`
	League        LeagueConfig        `yaml:"league"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	NKeySeed       string        `yaml:"nkey_seed"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// NotificationsConfig throttles chat bot requests per channel.
type NotificationsConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LeagueConfig holds the match lifecycle timings.
type LeagueConfig struct {
	RecoveryInterval      time.Duration `yaml:"recovery_interval"`
	DeadlineSweepInterval time.Duration `yaml:"deadline_sweep_interval"`
	PasscodeRevealDelay   time.Duration `yaml:"passcode_reveal_delay"`
	ChannelCleanupDelay   time.Duration `yaml:"channel_cleanup_delay"`
	ReminderLead          time.Duration `yaml:"reminder_lead"`
	ReminderMinLead       time.Duration `yaml:"reminder_min_lead"`
	DefaultTimezone       string        `yaml:"default_timezone"`
	QueueWorkers          int           `yaml:"queue_workers"`
}

// ObservabilityConfig holds configuration for observability components
type ObservabilityConfig struct {
	MetricsAddress string `yaml:"metrics_address"`
	LogLevel       string `yaml:"log_level"`
	Environment    string `yaml:"environment"`
}

// Default returns a config with every default applied and no connection settings.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads the configuration from a YAML file. Environment variables
// override file values; without a file the environment is the only source.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return loadConfigFromEnv()
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// loadConfigFromEnv loads the configuration from environment variables.
func loadConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.NATS.URL == "" {
		return nil, fmt.Errorf("NATS_URL environment variable not set")
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

func (c *Config) overrideFromEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("NATS_NKEY_SEED"); v != "" {
		c.NATS.NKeySeed = v
	}
	if v := os.Getenv("NATS_SUBJECT_PREFIX"); v != "" {
		c.NATS.SubjectPrefix = v
	}
	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		c.Observability.MetricsAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Observability.LogLevel = v
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Observability.Environment = v
	}
	if v := os.Getenv("LEAGUE_TIMEZONE"); v != "" {
		c.League.DefaultTimezone = v
	}
	if v := os.Getenv("LEAGUE_QUEUE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LEAGUE_QUEUE_WORKERS value: %v", err)
		}
		c.League.QueueWorkers = n
	}
	if v := os.Getenv("NATS_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NATS_REQUEST_TIMEOUT value: %v", err)
		}
		c.NATS.RequestTimeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDuration(&c.NATS.RequestTimeout, 5*time.Second)
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "league.bot"
	}
	if c.Notifications.RatePerSecond <= 0 {
		c.Notifications.RatePerSecond = 5
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = 10
	}

	setDuration(&c.League.RecoveryInterval, 30*time.Second)
	setDuration(&c.League.DeadlineSweepInterval, time.Minute)
	setDuration(&c.League.PasscodeRevealDelay, 2*time.Minute)
	setDuration(&c.League.ChannelCleanupDelay, 24*time.Hour)
	setDuration(&c.League.ReminderLead, 5*time.Minute)
	setDuration(&c.League.ReminderMinLead, time.Hour)
	if c.League.DefaultTimezone == "" {
		c.League.DefaultTimezone = "UTC"
	}
	if c.League.QueueWorkers <= 0 {
		c.League.QueueWorkers = 25
	}

	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = "development"
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Validate reports settings that cannot be used as given.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.League.ReminderLead >= c.League.ReminderMinLead {
		errs = append(errs, fmt.Errorf("league.reminder_lead (%s) must be shorter than league.reminder_min_lead (%s)",
			c.League.ReminderLead, c.League.ReminderMinLead))
	}
	return errors.Join(errs...)
}

// Location resolves the league's default timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.League.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid league.default_timezone %q: %w", c.League.DefaultTimezone, err)
	}
	return loc, nil
}

// SlogLevel parses observability.log_level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Observability.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid observability.log_level %q: %w", c.Observability.LogLevel, err)
	}
	return level, nil
}
