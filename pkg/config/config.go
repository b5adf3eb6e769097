package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the loader reads
const EnvPrefix = "TTADS_"

// Config holds all configuration options for the ad scraper
type Config struct {
	// Ad library endpoint
	API APIConfig `yaml:"api" json:"api"`

	// What to scrape and where to write it
	Job JobConfig `yaml:"job" json:"job"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry policy for transient fetch failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Resume state
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Optional sinks
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" json:"rabbitmq"`

	// Recurring runs
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// APIConfig describes the ad library endpoint
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	AccessToken string        `yaml:"access_token,omitempty" json:"-"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	PageSize    int           `yaml:"page_size" json:"page_size"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// JobConfig describes a scrape job
type JobConfig struct {
	Accounts     []string      `yaml:"accounts" json:"accounts"`
	From         string        `yaml:"from" json:"from"`
	To           string        `yaml:"to" json:"to"`
	OutputFormat string        `yaml:"output_format" json:"output_format"`
	OutputPath   string        `yaml:"output_path" json:"output_path"`
	OutputDir    string        `yaml:"output_dir" json:"output_dir"`
	Concurrency  int           `yaml:"concurrency" json:"concurrency"`
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int    `yaml:"burst" json:"burst"`
	Strategy          string `yaml:"strategy" json:"strategy"`
}

// RetryConfig holds the backoff parameters for fetch retries
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
	Jitter      bool          `yaml:"jitter" json:"jitter"`
}

// CheckpointConfig controls resume state persistence
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// PostgresConfig configures the persistent ad store
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DSN     string `yaml:"dsn,omitempty" json:"-"`
}

// RabbitMQConfig configures the ad publisher
type RabbitMQConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	URL        string `yaml:"url,omitempty" json:"-"`
	Exchange   string `yaml:"exchange" json:"exchange"`
	RoutingKey string `yaml:"routing_key" json:"routing_key"`
	Queue      string `yaml:"queue" json:"queue"`
}

// ScheduleConfig configures the schedule command. Cron wins over Interval.
type ScheduleConfig struct {
	Cron     string        `yaml:"cron" json:"cron"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "https://library.tiktok.com/api/v1/search",
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			PageSize:  50,
			Timeout:   30 * time.Second,
		},
		Job: JobConfig{
			OutputFormat: "csv",
			OutputDir:    "data",
			Concurrency:  3,
			DrainTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             5,
			Strategy:          "token_bucket",
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      true,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:   "tiktok_ads",
			RoutingKey: "ads.upserted",
			Queue:      "tiktok_ads",
		},
		Schedule: ScheduleConfig{
			Interval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := env(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := env(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := env(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	setBool := func(name string, dst *bool) {
		if v := env(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	setString("BASE_URL", &c.API.BaseURL)
	setString("ACCESS_TOKEN", &c.API.AccessToken)
	setString("USER_AGENT", &c.API.UserAgent)
	setInt("PAGE_SIZE", &c.API.PageSize)
	setDuration("TIMEOUT", &c.API.Timeout)

	if accounts := env("ACCOUNTS"); accounts != "" {
		c.Job.Accounts = SplitList(accounts)
	}
	setString("FROM", &c.Job.From)
	setString("TO", &c.Job.To)
	setString("OUTPUT_FORMAT", &c.Job.OutputFormat)
	setString("OUTPUT_PATH", &c.Job.OutputPath)
	setString("OUTPUT_DIR", &c.Job.OutputDir)
	setInt("CONCURRENCY", &c.Job.Concurrency)
	setDuration("DRAIN_TIMEOUT", &c.Job.DrainTimeout)

	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setInt("RATE_LIMIT_BURST", &c.RateLimit.Burst)

	setInt("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	setDuration("RETRY_BASE_DELAY", &c.Retry.BaseDelay)
	setDuration("RETRY_MAX_DELAY", &c.Retry.MaxDelay)

	setBool("CHECKPOINT_ENABLED", &c.Checkpoint.Enabled)
	setString("CHECKPOINT_DIR", &c.Checkpoint.Dir)

	setBool("POSTGRES_ENABLED", &c.Postgres.Enabled)
	setString("POSTGRES_DSN", &c.Postgres.DSN)

	setBool("RABBITMQ_ENABLED", &c.RabbitMQ.Enabled)
	setString("RABBITMQ_URL", &c.RabbitMQ.URL)
	setString("RABBITMQ_EXCHANGE", &c.RabbitMQ.Exchange)

	setString("SCHEDULE_CRON", &c.Schedule.Cron)
	setDuration("SCHEDULE_INTERVAL", &c.Schedule.Interval)

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// SplitList splits a comma separated list, trimming blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".tiktokads.yaml",
		".tiktokads.yml",
		filepath.Join(home, ".config", "tiktokads", "config.yaml"),
		filepath.Join(home, ".config", "tiktokads", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base URL is required"))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api timeout must be positive"))
	}

	switch strings.ToLower(c.Job.OutputFormat) {
	case "csv", "json", "xml":
	default:
		errs = append(errs, fmt.Errorf("unsupported output format %q", c.Job.OutputFormat))
	}
	if c.Job.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Job.Concurrency > 32 {
		errs = append(errs, errors.New("concurrency should not exceed 32"))
	}
	if c.Job.DrainTimeout < 0 {
		errs = append(errs, errors.New("drain timeout cannot be negative"))
	}
	if c.Job.OutputPath == "" && c.Job.OutputDir == "" {
		errs = append(errs, errors.New("output path or output directory is required"))
	}
	from, err := parseDate(c.Job.From)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid from date: %w", err))
	}
	to, err := parseDate(c.Job.To)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid to date: %w", err))
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		errs = append(errs, errors.New("to date is before from date"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	switch c.RateLimit.Strategy {
	case "", "token_bucket", "sliding_window":
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit strategy %q", c.RateLimit.Strategy))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres DSN is required when postgres is enabled"))
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("rabbitmq URL is required when rabbitmq is enabled"))
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.Exchange == "" {
		errs = append(errs, errors.New("rabbitmq exchange is required when rabbitmq is enabled"))
	}

	if c.Schedule.Cron == "" && c.Schedule.Interval < 0 {
		errs = append(errs, errors.New("schedule interval cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// DateRange returns the parsed job dates. Empty strings give zero times.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	from, err := parseDate(c.Job.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(c.Job.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if accounts, ok := flags["accounts"].([]string); ok && len(accounts) > 0 {
		c.Job.Accounts = accounts
	}
	if from, ok := flags["from"].(string); ok && from != "" {
		c.Job.From = from
	}
	if to, ok := flags["to"].(string); ok && to != "" {
		c.Job.To = to
	}
	if format, ok := flags["format"].(string); ok && format != "" {
		c.Job.OutputFormat = strings.ToLower(format)
	}
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Job.OutputPath = output
	}
	if dir, ok := flags["output-dir"].(string); ok && dir != "" {
		c.Job.OutputDir = dir
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Job.Concurrency = concurrent
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if baseURL, ok := flags["base-url"].(string); ok && baseURL != "" {
		c.API.BaseURL = baseURL
	}
	if cron, ok := flags["cron"].(string); ok && cron != "" {
		c.Schedule.Cron = cron
	}
	if every, ok := flags["every"].(time.Duration); ok && every > 0 {
		c.Schedule.Interval = every
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line flags > environment variables > .env file > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".tiktokads.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
