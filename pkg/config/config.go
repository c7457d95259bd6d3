package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "BULKGRAB_"

// Config holds all configuration options for bulkgrab
type Config struct {
	// Worker pool and retry behaviour
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Per-source request budgets
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Where downloaded files land
	Output OutputConfig `yaml:"output" json:"output"`

	// Settings for the built-in HTTP downloader
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SchedulerConfig holds worker pool configuration
type SchedulerConfig struct {
	Workers         int           `yaml:"workers" json:"workers" validate:"min=1,max=32"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries" validate:"min=0,max=20"`
	DefaultPriority int           `yaml:"default_priority" json:"default_priority" validate:"min=0,max=100"`
	IdleBackoff     time.Duration `yaml:"idle_backoff" json:"idle_backoff" validate:"min=10ms,max=10s"`
}

// SourceLimit holds the request budget for one source
type SourceLimit struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" validate:"min=1"`
	MinSpacing        time.Duration `yaml:"min_spacing" json:"min_spacing" validate:"min=0"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Default    SourceLimit            `yaml:"default" json:"default"`
	UsePresets bool                   `yaml:"use_presets" json:"use_presets"`
	Sources    map[string]SourceLimit `yaml:"sources" json:"sources" validate:"dive"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory     string `yaml:"base_directory" json:"base_directory" validate:"required"`
	OrganizeBySource  bool   `yaml:"organize_by_source" json:"organize_by_source"`
	SkipExisting      bool   `yaml:"skip_existing" json:"skip_existing"`
	SanitizeFilenames bool   `yaml:"sanitize_filenames" json:"sanitize_filenames"`
	SaveMetadata      bool   `yaml:"save_metadata" json:"save_metadata"`
}

// HTTPConfig holds settings for direct HTTP downloads
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout" validate:"min=1s"`
	UserAgent string        `yaml:"user_agent" json:"user_agent" validate:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level" validate:"oneof=debug info warn error disabled"`
	File     string `yaml:"file" json:"file"`
	FileOnly bool   `yaml:"file_only" json:"file_only"`
}

var validate = validator.New()

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Workers:         3,
			MaxRetries:      3,
			DefaultPriority: 5,
			IdleBackoff:     250 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Default: SourceLimit{
				RequestsPerMinute: 30,
				MinSpacing:        time.Second,
			},
			UsePresets: true,
			Sources:    map[string]SourceLimit{},
		},
		Output: OutputConfig{
			BaseDirectory:     "./downloads",
			OrganizeBySource:  true,
			SkipExisting:      true,
			SanitizeFilenames: true,
		},
		HTTP: HTTPConfig{
			Timeout:   60 * time.Second,
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		errs = append(errs, setInt(&c.Scheduler.Workers, "WORKERS", v))
	}
	if v := os.Getenv(EnvPrefix + "MAX_RETRIES"); v != "" {
		errs = append(errs, setInt(&c.Scheduler.MaxRetries, "MAX_RETRIES", v))
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_PRIORITY"); v != "" {
		errs = append(errs, setInt(&c.Scheduler.DefaultPriority, "DEFAULT_PRIORITY", v))
	}
	if v := os.Getenv(EnvPrefix + "REQUESTS_PER_MINUTE"); v != "" {
		errs = append(errs, setInt(&c.RateLimit.Default.RequestsPerMinute, "REQUESTS_PER_MINUTE", v))
	}
	if v := os.Getenv(EnvPrefix + "MIN_SPACING"); v != "" {
		errs = append(errs, setDuration(&c.RateLimit.Default.MinSpacing, "MIN_SPACING", v))
	}
	if v := os.Getenv(EnvPrefix + "HTTP_TIMEOUT"); v != "" {
		errs = append(errs, setDuration(&c.HTTP.Timeout, "HTTP_TIMEOUT", v))
	}
	if v := os.Getenv(EnvPrefix + "USER_AGENT"); v != "" {
		c.HTTP.UserAgent = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

func setInt(dst *int, name, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name, value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
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
		".bulkgrab.yaml",
		".bulkgrab.yml",
		filepath.Join(home, ".config", "bulkgrab", "config.yaml"),
		filepath.Join(home, ".config", "bulkgrab", "config.yml"),
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

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
		}
	}

	for name := range c.RateLimit.Sources {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("rate limit source name cannot be empty"))
		}
	}

	if c.Logging.FileOnly && c.Logging.File == "" {
		errs = append(errs, errors.New("logging.file_only requires logging.file"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if workers, ok := flags["workers"].(int); ok && workers != 0 {
		c.Scheduler.Workers = workers
	}
	if retries, ok := flags["max-retries"].(int); ok {
		c.Scheduler.MaxRetries = retries
	}
	if priority, ok := flags["priority"].(int); ok {
		c.Scheduler.DefaultPriority = priority
	}
	if rpm, ok := flags["requests-per-minute"].(int); ok && rpm > 0 {
		c.RateLimit.Default.RequestsPerMinute = rpm
	}
	if spacing, ok := flags["min-spacing"].(time.Duration); ok {
		c.RateLimit.Default.MinSpacing = spacing
	}
	if timeout, ok := flags["timeout"].(time.Duration); ok && timeout > 0 {
		c.HTTP.Timeout = timeout
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = strings.ToLower(logLevel)
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// godotenv never overrides variables that are already set
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".bulkgrab.env"))

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
