package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Job.Concurrency)
	assert.Equal(t, "csv", cfg.Job.OutputFormat)
	assert.Equal(t, "data", cfg.Job.OutputDir)
	assert.Equal(t, 10*time.Second, cfg.Job.DrainTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.True(t, cfg.Checkpoint.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.False(t, cfg.RabbitMQ.Enabled)

	// Defaults alone must be runnable.
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TTADS_ACCOUNTS", "adv-1, adv-2,,adv-3")
	t.Setenv("TTADS_REQUESTS_PER_MINUTE", "30")
	t.Setenv("TTADS_OUTPUT_DIR", "/tmp/ads")
	t.Setenv("TTADS_CONCURRENCY", "5")
	t.Setenv("TTADS_RETRY_BASE_DELAY", "250ms")
	t.Setenv("TTADS_CHECKPOINT_ENABLED", "false")
	t.Setenv("TTADS_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, []string{"adv-1", "adv-2", "adv-3"}, cfg.Job.Accounts)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "/tmp/ads", cfg.Job.OutputDir)
	assert.Equal(t, 5, cfg.Job.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.False(t, cfg.Checkpoint.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("TTADS_CONCURRENCY", "lots")
	t.Setenv("TTADS_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTADS_CONCURRENCY")
	assert.Contains(t, err.Error(), "TTADS_TIMEOUT")
	assert.Equal(t, 3, cfg.Job.Concurrency)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
api:
  base_url: http://localhost:9999/ads
  page_size: 20
job:
  accounts: [a1, a2]
  from: "2024-01-01"
  to: "2024-02-01"
  output_format: json
retry:
  max_attempts: 7
  base_delay: 1s
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))

		assert.Equal(t, "http://localhost:9999/ads", cfg.API.BaseURL)
		assert.Equal(t, 20, cfg.API.PageSize)
		assert.Equal(t, []string{"a1", "a2"}, cfg.Job.Accounts)
		assert.Equal(t, "json", cfg.Job.OutputFormat)
		assert.Equal(t, 7, cfg.Retry.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
		// untouched keys keep defaults
		assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0644))

		err := DefaultConfig().LoadFromFile(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		err := DefaultConfig().LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Run("finds config in current directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".tiktokads.yaml"), []byte("job: {}"), 0644))

		assert.Equal(t, ".tiktokads.yaml", DefaultConfig().findConfigFile())
	})

	t.Run("no config file found", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		assert.Empty(t, DefaultConfig().findConfigFile())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Job.OutputFormat = "parquet" },
			wantErr: "unsupported output format",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Job.Concurrency = 0 },
			wantErr: "concurrency must be positive",
		},
		{
			name:    "inverted dates",
			mutate:  func(c *Config) { c.Job.From, c.Job.To = "2024-03-01", "2024-01-01" },
			wantErr: "to date is before from date",
		},
		{
			name:    "malformed date",
			mutate:  func(c *Config) { c.Job.From = "01/02/2024" },
			wantErr: "invalid from date",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Postgres.Enabled = true },
			wantErr: "postgres DSN is required",
		},
		{
			name:    "rabbitmq without url",
			mutate:  func(c *Config) { c.RabbitMQ.Enabled = true },
			wantErr: "rabbitmq URL is required",
		},
		{
			name:    "bad multiplier",
			mutate:  func(c *Config) { c.Retry.Multiplier = 0.5 },
			wantErr: "retry multiplier",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Job.Concurrency = -1
	cfg.RateLimit.Burst = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be positive")
	assert.Contains(t, err.Error(), "burst size must be positive")
}

func TestDateRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Job.From = "2024-01-01"

	from, to, err := cfg.DateRange()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.True(t, to.IsZero())
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Job.Accounts = []string{"x"}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var loaded Config
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, []string{"x"}, loaded.Job.Accounts)
	assert.Equal(t, cfg.Retry, loaded.Retry)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"accounts":   []string{"f1"},
		"format":     "XML",
		"concurrent": 8,
		"rate-limit": 10,
		"every":      time.Hour,
		"output":     "",
	})

	assert.Equal(t, []string{"f1"}, cfg.Job.Accounts)
	assert.Equal(t, "xml", cfg.Job.OutputFormat)
	assert.Equal(t, 8, cfg.Job.Concurrency)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, time.Hour, cfg.Schedule.Interval)
	assert.Empty(t, cfg.Job.OutputPath)
}

func TestLoad(t *testing.T) {
	t.Run("precedence order", func(t *testing.T) {
		t.Chdir(t.TempDir())
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
job:
  accounts: [file-acc]
  output_dir: /file/out
  concurrency: 2
logging:
  level: warn
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		t.Setenv("TTADS_OUTPUT_DIR", "/env/out")
		t.Setenv("TTADS_CONCURRENCY", "4")

		cfg, err := Load(path, map[string]interface{}{"concurrent": 6})
		require.NoError(t, err)

		assert.Equal(t, 6, cfg.Job.Concurrency)                // flag
		assert.Equal(t, "/env/out", cfg.Job.OutputDir)         // env
		assert.Equal(t, []string{"file-acc"}, cfg.Job.Accounts) // file
		assert.Equal(t, "warn", cfg.Logging.Level)             // file
		assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)   // default
	})

	t.Run("validation failure", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("", map[string]interface{}{"format": "pdf"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
		assert.Nil(t, cfg)
	})

	t.Run("loads .env file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv("HOME", dir)
		require.NoError(t, os.WriteFile(".env", []byte("TTADS_ACCOUNTS=dot1,dot2\n"), 0644))
		os.Unsetenv("TTADS_ACCOUNTS")
		t.Cleanup(func() { os.Unsetenv("TTADS_ACCOUNTS") })

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"dot1", "dot2"}, cfg.Job.Accounts)
	})
}
