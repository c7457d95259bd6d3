package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 3, config.Scheduler.Workers)
	assert.Equal(t, 3, config.Scheduler.MaxRetries)
	assert.Equal(t, 5, config.Scheduler.DefaultPriority)
	assert.Equal(t, 30, config.RateLimit.Default.RequestsPerMinute)
	assert.Equal(t, time.Second, config.RateLimit.Default.MinSpacing)
	assert.Equal(t, "./downloads", config.Output.BaseDirectory)
	assert.Equal(t, "info", config.Logging.Level)
	assert.NoError(t, config.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BULKGRAB_WORKERS", "5")
	t.Setenv("BULKGRAB_MAX_RETRIES", "1")
	t.Setenv("BULKGRAB_REQUESTS_PER_MINUTE", "12")
	t.Setenv("BULKGRAB_MIN_SPACING", "2s")
	t.Setenv("BULKGRAB_OUTPUT_DIR", "/tmp/test-downloads")
	t.Setenv("BULKGRAB_LOG_LEVEL", "DEBUG")
	t.Setenv("BULKGRAB_HTTP_TIMEOUT", "15s")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, 5, config.Scheduler.Workers)
	assert.Equal(t, 1, config.Scheduler.MaxRetries)
	assert.Equal(t, 12, config.RateLimit.Default.RequestsPerMinute)
	assert.Equal(t, 2*time.Second, config.RateLimit.Default.MinSpacing)
	assert.Equal(t, "/tmp/test-downloads", config.Output.BaseDirectory)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 15*time.Second, config.HTTP.Timeout)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("BULKGRAB_WORKERS", "lots")
	t.Setenv("BULKGRAB_MIN_SPACING", "soon")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BULKGRAB_WORKERS")
	assert.Contains(t, err.Error(), "BULKGRAB_MIN_SPACING")
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
scheduler:
  workers: 4
  max_retries: 2
  idle_backoff: 100ms
rate_limit:
  default:
    requests_per_minute: 10
    min_spacing: 3s
  sources:
    alpha:
      requests_per_minute: 1
      min_spacing: 2s
output:
  base_directory: /tmp/yaml-downloads
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	config := DefaultConfig()
	require.NoError(t, config.LoadFromFile(configPath))

	assert.Equal(t, 4, config.Scheduler.Workers)
	assert.Equal(t, 2, config.Scheduler.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.Scheduler.IdleBackoff)
	assert.Equal(t, 10, config.RateLimit.Default.RequestsPerMinute)
	assert.Equal(t, 3*time.Second, config.RateLimit.Default.MinSpacing)
	assert.Equal(t, SourceLimit{RequestsPerMinute: 1, MinSpacing: 2 * time.Second}, config.RateLimit.Sources["alpha"])
	assert.Equal(t, "/tmp/yaml-downloads", config.Output.BaseDirectory)
	assert.Equal(t, "warn", config.Logging.Level)
	// untouched sections keep their defaults
	assert.True(t, config.Output.OrganizeBySource)
}

func TestLoadFromFileMissing(t *testing.T) {
	config := DefaultConfig()
	err := config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Scheduler.Workers = 0 },
			wantErr: "Workers",
		},
		{
			name:    "too many workers",
			modify:  func(c *Config) { c.Scheduler.Workers = 100 },
			wantErr: "Workers",
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Scheduler.MaxRetries = -1 },
			wantErr: "MaxRetries",
		},
		{
			name:    "zero request budget",
			modify:  func(c *Config) { c.RateLimit.Default.RequestsPerMinute = 0 },
			wantErr: "RequestsPerMinute",
		},
		{
			name: "bad source budget",
			modify: func(c *Config) {
				c.RateLimit.Sources["alpha"] = SourceLimit{RequestsPerMinute: 0}
			},
			wantErr: "RequestsPerMinute",
		},
		{
			name:    "empty output directory",
			modify:  func(c *Config) { c.Output.BaseDirectory = "" },
			wantErr: "BaseDirectory",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "chatty" },
			wantErr: "Level",
		},
		{
			name:    "file only without file",
			modify:  func(c *Config) { c.Logging.FileOnly = true },
			wantErr: "file_only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"workers":     8,
		"max-retries": 0,
		"output":      "/tmp/flags",
		"log-level":   "ERROR",
		"min-spacing": 500 * time.Millisecond,
	})

	assert.Equal(t, 8, config.Scheduler.Workers)
	assert.Equal(t, 0, config.Scheduler.MaxRetries)
	assert.Equal(t, "/tmp/flags", config.Output.BaseDirectory)
	assert.Equal(t, "error", config.Logging.Level)
	assert.Equal(t, 500*time.Millisecond, config.RateLimit.Default.MinSpacing)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := DefaultConfig()
	config.Scheduler.Workers = 7
	config.RateLimit.Sources["beta"] = SourceLimit{RequestsPerMinute: 5, MinSpacing: 1500 * time.Millisecond}
	require.NoError(t, config.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, config, loaded)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("scheduler:\n  workers: 4\n  max_retries: 5\n"), 0644))

	t.Setenv("BULKGRAB_MAX_RETRIES", "6")

	config, err := Load(configPath, map[string]interface{}{"workers": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, config.Scheduler.Workers)
	assert.Equal(t, 6, config.Scheduler.MaxRetries)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = Load("", map[string]interface{}{"workers": 99})
	assert.Error(t, err)
}
